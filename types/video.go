package types

import (
	"encoding/json"
	"time"
)

// Video is a processed upload: the stored media, its transcript and the
// generated notes.
type Video struct {
	ID int `json:"id" db:"id"`

	Title string `json:"title" db:"title"`

	// VideoURL references the uploaded media in blob storage.
	VideoURL string `json:"videoUrl" db:"video_url"`

	// BlobKey is the object key of the media inside the storage bucket.
	BlobKey string `json:"-" db:"blob_key"`

	// Transcript is empty when the transcription service returned nothing.
	Transcript string `json:"transcript" db:"transcript"`

	// Summary holds the serialized notes; nil when no summary was stored.
	Summary json.RawMessage `json:"summary" db:"summary"`

	UserID int `json:"userId" db:"user_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// VideoListItem is the light projection returned when listing a user's videos.
type VideoListItem struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
