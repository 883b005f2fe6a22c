package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parsast/ytassist-backend/internal/batch"
	"github.com/parsast/ytassist-backend/internal/data/repos/videos"
	"github.com/parsast/ytassist-backend/internal/domain"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

// BatchOperation names one of the bulk pipelines.
type BatchOperation string

const (
	OpWhisper BatchOperation = "whisper"
	OpCleanup BatchOperation = "cleanup"
	OpUpload  BatchOperation = "upload"
)

// ErrNotConfigured marks an operation whose collaborator (speech-to-text or
// caption upload backend) has no credentials wired in.
var ErrNotConfigured = errors.New("operation backend not configured")

// Candidate is one video eligible for a batch operation.
type Candidate struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Reason  string `json:"reason"`
}

// StatusCounts aggregates transcript coverage across all synced videos.
type StatusCounts struct {
	TotalVideos         int `json:"total_videos"`
	WithYouTubeSubtitle int `json:"with_youtube_subtitle"`
	WithWhisper         int `json:"with_whisper"`
	WithCleaned         int `json:"with_cleaned"`
	NoTranscript        int `json:"no_transcript"`
	NeedsWhisper        int `json:"needs_whisper"`
	NeedsCleanup        int `json:"needs_cleanup"`
	NeedsUpload         int `json:"needs_upload"`
	FullyProcessed      int `json:"fully_processed"`
}

// VideoStatus is the per-video row in the batch status summary.
type VideoStatus struct {
	VideoID         string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	HasYouTube      bool   `json:"has_youtube"`
	HasWhisper      bool   `json:"has_whisper"`
	HasCleaned      bool   `json:"has_cleaned"`
}

// BatchSummary is the full pipeline status report: aggregate counts plus one
// detail row per synced video.
type BatchSummary struct {
	Summary StatusCounts  `json:"summary"`
	Videos  []VideoStatus `json:"videos"`
}

// BatchService resolves which videos each bulk pipeline should touch and runs
// the pipelines through the parallel task runner.
type BatchService interface {
	Summary(ctx context.Context) (*BatchSummary, error)
	Candidates(ctx context.Context, op BatchOperation) ([]Candidate, error)

	// Run starts the pipeline over the given video IDs, or over all current
	// candidates when ids is empty. Events stream until the batch finishes.
	Run(ctx context.Context, op BatchOperation, ids []string, concurrency int) (<-chan batch.ProgressEvent, error)
}

type batchService struct {
	log         *logger.Logger
	runner      *batch.Runner
	videoRepo   videos.VideoRepo
	transcripts videos.TranscriptRepo
	cleanup     CleanupService
	transcriber Transcriber
	uploader    CaptionUploader
}

func NewBatchService(
	baseLog *logger.Logger,
	runner *batch.Runner,
	videoRepo videos.VideoRepo,
	transcripts videos.TranscriptRepo,
	cleanup CleanupService,
	transcriber Transcriber,
	uploader CaptionUploader,
) (BatchService, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner required")
	}
	if videoRepo == nil || transcripts == nil {
		return nil, fmt.Errorf("video storage required")
	}
	return &batchService{
		log:         baseLog.With("service", "BatchService"),
		runner:      runner,
		videoRepo:   videoRepo,
		transcripts: transcripts,
		cleanup:     cleanup,
		transcriber: transcriber,
		uploader:    uploader,
	}, nil
}

func (s *batchService) Summary(ctx context.Context) (*BatchSummary, error) {
	synced, err := s.videoRepo.ListSynced(ctx)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{
		Summary: StatusCounts{TotalVideos: len(synced)},
		Videos:  make([]VideoStatus, 0, len(synced)),
	}
	for _, v := range synced {
		transcripts, err := s.transcripts.ListByVideo(ctx, v.ID)
		if err != nil {
			return nil, err
		}

		var hasYouTube, hasWhisper, hasCleaned bool
		for _, t := range transcripts {
			switch t.Source {
			case domain.TranscriptSourceYouTube:
				hasYouTube = true
			case domain.TranscriptSourceWhisper:
				hasWhisper = true
			case domain.TranscriptSourceCleaned:
				hasCleaned = true
			}
		}
		hasAny := hasYouTube || hasWhisper || hasCleaned

		if hasYouTube {
			summary.Summary.WithYouTubeSubtitle++
		}
		if hasWhisper {
			summary.Summary.WithWhisper++
		}
		if hasCleaned {
			summary.Summary.WithCleaned++
		}
		if !hasAny {
			summary.Summary.NoTranscript++
		}
		if !hasWhisper {
			summary.Summary.NeedsWhisper++
		}
		if hasAny && !hasCleaned {
			summary.Summary.NeedsCleanup++
		}
		if hasWhisper || hasCleaned {
			summary.Summary.NeedsUpload++
		}
		if hasWhisper && hasCleaned {
			summary.Summary.FullyProcessed++
		}

		summary.Videos = append(summary.Videos, VideoStatus{
			VideoID:         v.ID,
			Title:           v.Title,
			DurationSeconds: v.DurationSeconds,
			HasYouTube:      hasYouTube,
			HasWhisper:      hasWhisper,
			HasCleaned:      hasCleaned,
		})
	}
	return summary, nil
}

func (s *batchService) Candidates(ctx context.Context, op BatchOperation) ([]Candidate, error) {
	synced, err := s.videoRepo.ListSynced(ctx)
	if err != nil {
		return nil, err
	}
	return s.candidatesFrom(ctx, op, synced)
}

func (s *batchService) candidatesFrom(ctx context.Context, op BatchOperation, synced []*domain.Video) ([]Candidate, error) {
	out := []Candidate{}
	for _, v := range synced {
		eligible, reason, err := s.eligible(ctx, op, v.ID)
		if err != nil {
			return nil, err
		}
		if eligible {
			out = append(out, Candidate{VideoID: v.ID, Title: v.Title, Reason: reason})
		}
	}
	return out, nil
}

// eligible decides whether a pipeline has work for the video.
func (s *batchService) eligible(ctx context.Context, op BatchOperation, videoID string) (bool, string, error) {
	switch op {
	case OpWhisper:
		has, err := s.transcripts.HasSource(ctx, videoID, domain.TranscriptSourceWhisper)
		if err != nil {
			return false, "", err
		}
		return !has, "no whisper transcript yet", nil
	case OpCleanup:
		cleaned, err := s.transcripts.HasSource(ctx, videoID, domain.TranscriptSourceCleaned)
		if err != nil {
			return false, "", err
		}
		if cleaned {
			return false, "", nil
		}
		raw, err := s.transcripts.BestBySourcePreference(ctx, videoID, videos.CleanupPreference)
		if err != nil {
			return false, "", err
		}
		return raw != nil, "raw transcript awaiting cleanup", nil
	case OpUpload:
		t, err := s.transcripts.BestBySourcePreference(ctx, videoID, videos.UploadPreference)
		if err != nil {
			return false, "", err
		}
		return t != nil, "caption ready for upload", nil
	default:
		return false, "", fmt.Errorf("unknown batch operation %q", op)
	}
}

func (s *batchService) Run(ctx context.Context, op BatchOperation, ids []string, concurrency int) (<-chan batch.ProgressEvent, error) {
	fn, err := s.itemFunc(op)
	if err != nil {
		return nil, err
	}

	items, err := s.workItems(ctx, op, ids)
	if err != nil {
		return nil, err
	}

	s.log.Info("Batch starting", "operation", op, "items", len(items), "parallel", concurrency)
	return s.runner.Run(ctx, items, fn, concurrency)
}

func (s *batchService) itemFunc(op BatchOperation) (batch.ItemFunc, error) {
	switch op {
	case OpWhisper:
		if s.transcriber == nil {
			return nil, fmt.Errorf("%w: speech-to-text", ErrNotConfigured)
		}
		return s.whisperOne, nil
	case OpCleanup:
		if s.cleanup == nil {
			return nil, fmt.Errorf("%w: transcript cleanup", ErrNotConfigured)
		}
		return s.cleanupOne, nil
	case OpUpload:
		if s.uploader == nil {
			return nil, fmt.Errorf("%w: caption upload", ErrNotConfigured)
		}
		return s.uploadOne, nil
	default:
		return nil, fmt.Errorf("unknown batch operation %q", op)
	}
}

func (s *batchService) workItems(ctx context.Context, op BatchOperation, ids []string) ([]batch.WorkItem, error) {
	if len(ids) > 0 {
		vids, err := s.videoRepo.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		items := make([]batch.WorkItem, 0, len(vids))
		for _, v := range vids {
			items = append(items, batch.WorkItem{ID: v.ID, Title: v.Title})
		}
		return items, nil
	}

	candidates, err := s.Candidates(ctx, op)
	if err != nil {
		return nil, err
	}
	items := make([]batch.WorkItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, batch.WorkItem{ID: c.VideoID, Title: c.Title})
	}
	return items, nil
}

func (s *batchService) whisperOne(ctx context.Context, item batch.WorkItem) batch.Result {
	has, err := s.transcripts.HasSource(ctx, item.ID, domain.TranscriptSourceWhisper)
	if err != nil {
		return batch.Failed(err.Error())
	}
	if has {
		return batch.Skipped("whisper transcript already exists")
	}

	text, err := s.transcriber.Transcribe(ctx, item.ID)
	if err != nil {
		return batch.Failed(err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return batch.Failed("transcription returned empty text")
	}

	transcript := &domain.Transcript{
		VideoID:      item.ID,
		LanguageCode: "fa",
		Source:       domain.TranscriptSourceWhisper,
		RawContent:   text,
		CleanContent: text,
	}
	if err := s.transcripts.Create(ctx, transcript); err != nil {
		return batch.Failed(err.Error())
	}
	return batch.Done(fmt.Sprintf("transcribed %d chars", len(text)))
}

func (s *batchService) cleanupOne(ctx context.Context, item batch.WorkItem) batch.Result {
	cleaned, err := s.transcripts.HasSource(ctx, item.ID, domain.TranscriptSourceCleaned)
	if err != nil {
		return batch.Failed(err.Error())
	}
	if cleaned {
		return batch.Skipped("already cleaned")
	}

	result, err := s.cleanup.CleanTranscript(ctx, item.ID)
	if err != nil {
		return batch.Failed(err.Error())
	}
	return batch.Done(fmt.Sprintf("cleaned %d chars into %d", result.InputChars, result.OutputChars))
}

func (s *batchService) uploadOne(ctx context.Context, item batch.WorkItem) batch.Result {
	t, err := s.transcripts.BestBySourcePreference(ctx, item.ID, videos.UploadPreference)
	if err != nil {
		return batch.Failed(err.Error())
	}
	if t == nil {
		return batch.Skipped("no caption to upload")
	}

	content := t.CleanContent
	if strings.TrimSpace(content) == "" {
		content = t.RawContent
	}
	if err := s.uploader.Upload(ctx, item.ID, t.LanguageCode, content); err != nil {
		return batch.Failed(err.Error())
	}
	return batch.Done("caption uploaded")
}
