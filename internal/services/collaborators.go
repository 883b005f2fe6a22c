package services

import "context"

// Transcriber produces a transcript for a video from its audio. Left nil when
// no speech-to-text backend is configured; batch operations that need one
// report the absence instead of failing the process.
type Transcriber interface {
	Transcribe(ctx context.Context, videoID string) (string, error)
}

// CaptionUploader pushes finished caption text back to the video platform.
// Nil when the platform credentials are not configured.
type CaptionUploader interface {
	Upload(ctx context.Context, videoID, languageCode, content string) error
}
