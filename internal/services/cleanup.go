package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/parsast/ytassist-backend/internal/clients/openai"
	"github.com/parsast/ytassist-backend/internal/data/repos/videos"
	"github.com/parsast/ytassist-backend/internal/domain"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

// Raw transcripts can exceed the model's context window, so cleanup runs in
// segments split on paragraph boundaries.
const cleanupSegmentSize = 8000

const cleanupSystemPrompt = `You clean up raw video transcripts. Fix punctuation, casing and obvious
speech-to-text mistakes. Remove filler words and repeated false starts. Keep
the speaker's wording, meaning and language exactly as they are. Return only
the cleaned transcript text with no commentary.`

// CleanupResult reports one transcript cleanup.
type CleanupResult struct {
	VideoID     string `json:"video_id"`
	Source      string `json:"source"`
	InputChars  int    `json:"input_chars"`
	OutputChars int    `json:"output_chars"`
}

// CleanupService rewrites a video's best raw transcript into a polished one
// and stores it as a new transcript row with the cleaned source.
type CleanupService interface {
	CleanTranscript(ctx context.Context, videoID string) (*CleanupResult, error)
}

type cleanupService struct {
	log         *logger.Logger
	ai          openai.Client
	transcripts videos.TranscriptRepo
}

func NewCleanupService(baseLog *logger.Logger, ai openai.Client, transcripts videos.TranscriptRepo) (CleanupService, error) {
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	if transcripts == nil {
		return nil, fmt.Errorf("transcript repo required")
	}
	return &cleanupService{
		log:         baseLog.With("service", "CleanupService"),
		ai:          ai,
		transcripts: transcripts,
	}, nil
}

func (s *cleanupService) CleanTranscript(ctx context.Context, videoID string) (*CleanupResult, error) {
	raw, err := s.transcripts.BestBySourcePreference(ctx, videoID, videos.CleanupPreference)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("video %s has no raw transcript to clean", videoID)
	}

	content := raw.RawContent
	if strings.TrimSpace(content) == "" {
		content = raw.CleanContent
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("video %s transcript is empty", videoID)
	}

	segments := splitSegments(content, cleanupSegmentSize)
	cleaned := make([]string, 0, len(segments))
	for i, segment := range segments {
		out, err := s.ai.GenerateText(ctx, cleanupSystemPrompt, segment)
		if err != nil {
			return nil, fmt.Errorf("clean segment %d/%d: %w", i+1, len(segments), err)
		}
		cleaned = append(cleaned, strings.TrimSpace(out))
	}
	result := strings.Join(cleaned, "\n\n")

	transcript := &domain.Transcript{
		VideoID:      videoID,
		LanguageCode: raw.LanguageCode,
		Source:       domain.TranscriptSourceCleaned,
		RawContent:   content,
		CleanContent: result,
	}
	if err := s.transcripts.Create(ctx, transcript); err != nil {
		return nil, fmt.Errorf("store cleaned transcript: %w", err)
	}

	s.log.Info("Transcript cleaned", "video_id", videoID, "in_chars", len(content), "out_chars", len(result))
	return &CleanupResult{
		VideoID:     videoID,
		Source:      raw.Source,
		InputChars:  len(content),
		OutputChars: len(result),
	}, nil
}

// splitSegments cuts text into pieces of at most max runes, preferring
// paragraph then sentence boundaries near the cut point.
func splitSegments(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}
	var segments []string
	start := 0
	for start < len(runes) {
		end := start + max
		if end >= len(runes) {
			segments = append(segments, string(runes[start:]))
			break
		}
		cut := end
		window := string(runes[start:end])
		if i := strings.LastIndex(window, "\n\n"); i > 0 {
			cut = start + len([]rune(window[:i+2]))
		} else if i := strings.LastIndexAny(window, ".!?\n"); i > 0 {
			cut = start + len([]rune(window[:i+1]))
		}
		segments = append(segments, string(runes[start:cut]))
		start = cut
	}
	return segments
}
