package videos

import (
	"context"

	"gorm.io/gorm"

	"github.com/parsast/ytassist-backend/internal/domain"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

type VideoRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Video, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Video, error)
	ListSynced(ctx context.Context) ([]*domain.Video, error)
	Upsert(ctx context.Context, video *domain.Video) error
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return &videoRepo{db: db, log: baseLog.With("repo", "VideoRepo")}
}

func (r *videoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	var out domain.Video
	if err := r.db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *videoRepo) GetByIDs(ctx context.Context, ids []string) ([]*domain.Video, error) {
	var out []*domain.Video
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) ListSynced(ctx context.Context) ([]*domain.Video, error) {
	var out []*domain.Video
	if err := r.db.WithContext(ctx).
		Where("sync_status = ?", domain.SyncStatusSynced).
		Order("published_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) Upsert(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Save(video).Error
}
