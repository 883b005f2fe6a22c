package videos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/parsast/ytassist-backend/internal/domain"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

type TranscriptRepo interface {
	Create(ctx context.Context, transcript *domain.Transcript) error
	ListByVideo(ctx context.Context, videoID string) ([]*domain.Transcript, error)
	HasSource(ctx context.Context, videoID, source string) (bool, error)

	// BestBySourcePreference returns the first transcript found walking the
	// preference list in order, or nil when the video has none of them.
	BestBySourcePreference(ctx context.Context, videoID string, preference []string) (*domain.Transcript, error)
}

type transcriptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptRepo {
	return &transcriptRepo{db: db, log: baseLog.With("repo", "TranscriptRepo")}
}

func (r *transcriptRepo) Create(ctx context.Context, transcript *domain.Transcript) error {
	return r.db.WithContext(ctx).Create(transcript).Error
}

func (r *transcriptRepo) ListByVideo(ctx context.Context, videoID string) ([]*domain.Transcript, error) {
	var out []*domain.Transcript
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *transcriptRepo) HasSource(ctx context.Context, videoID, source string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.Transcript{}).
		Where("video_id = ? AND source = ?", videoID, source).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *transcriptRepo) BestBySourcePreference(ctx context.Context, videoID string, preference []string) (*domain.Transcript, error) {
	for _, source := range preference {
		var out domain.Transcript
		err := r.db.WithContext(ctx).
			Where("video_id = ? AND source = ?", videoID, source).
			Order("created_at DESC").
			First(&out).Error
		if err == nil {
			return &out, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// IndexingPreference orders transcript sources by quality for RAG indexing.
var IndexingPreference = []string{
	domain.TranscriptSourceCleaned,
	domain.TranscriptSourceWhisper,
	domain.TranscriptSourceYouTube,
}

// CleanupPreference orders raw sources used as cleanup input.
var CleanupPreference = []string{
	domain.TranscriptSourceWhisper,
	domain.TranscriptSourceYouTube,
}

// UploadPreference orders sources for YouTube caption upload.
var UploadPreference = []string{
	domain.TranscriptSourceCleaned,
	domain.TranscriptSourceWhisper,
}
