package domain

import (
	"time"
)

// Sync state for a video record.
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusError   = "error"
)

// Transcript provenance, in ascending order of quality. The cleaned variant
// is preferred for indexing, then whisper, then the raw YouTube captions.
const (
	TranscriptSourceYouTube = "youtube"
	TranscriptSourceWhisper = "whisper"
	TranscriptSourceCleaned = "cleaned"
)

// Video is the synced YouTube video metadata row.
type Video struct {
	ID              string     `gorm:"primaryKey;size:20" json:"id"`
	Title           string     `gorm:"size:500;not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Tags            string     `gorm:"type:text" json:"tags,omitempty"`
	ThumbnailURL    string     `gorm:"size:500" json:"thumbnail_url,omitempty"`
	ChannelID       string     `gorm:"size:50;not null;index" json:"channel_id"`
	ViewCount       int        `json:"view_count"`

	SyncStatus string     `gorm:"size:20;default:pending;index" json:"sync_status"`
	SyncError  string     `gorm:"type:text" json:"sync_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Transcripts []Transcript `gorm:"foreignKey:VideoID" json:"transcripts,omitempty"`
}

// Transcript is one subtitle/transcript variant for a video.
type Transcript struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	VideoID         string    `gorm:"size:20;not null;index" json:"video_id"`
	LanguageCode    string    `gorm:"size:10;not null" json:"language_code"`
	IsAutoGenerated bool      `json:"is_auto_generated"`
	Source          string    `gorm:"size:20;not null;index" json:"source"`
	RawContent      string    `gorm:"type:text;not null" json:"raw_content"`
	CleanContent    string    `gorm:"type:text;not null" json:"clean_content"`
	CreatedAt       time.Time `json:"created_at"`
}
