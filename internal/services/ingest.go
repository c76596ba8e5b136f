package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/notezilla/apiserver/internal/metrics"
	"github.com/notezilla/apiserver/internal/mq"
	"github.com/notezilla/apiserver/internal/storage"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
)

const (
	// MaxUploadBytes bounds the size of a single upload.
	MaxUploadBytes = 1 << 30
	defaultTitle   = "Untitled"
)

var (
	ErrNoFile           = errors.New("no file uploaded")
	ErrFileTooLarge     = errors.New("file exceeds the upload limit")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

var allowedMediaTypes = map[string]bool{
	"video/mp4":        true,
	"video/mpeg":       true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/x-matroska": true,
	"video/x-msvideo":  true,
	"video/x-m4v":      true,
	"audio/mpeg":       true,
	"audio/mp3":        true,
	"audio/mp4":        true,
	"audio/x-m4a":      true,
	"audio/wav":        true,
	"audio/x-wav":      true,
	"audio/wave":       true,
	"audio/webm":       true,
	"audio/ogg":        true,
	"audio/flac":       true,
	"audio/aac":        true,
}

// Transcriber converts media into transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, media io.Reader, filename string) (string, error)
}

// Summarizer converts a transcript into structured notes.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (types.Summary, error)
}

// Upload is one media file submitted for processing.
type Upload struct {
	File        io.ReadSeeker
	Filename    string
	Size        int64
	ContentType string
	Title       string
	OwnerID     int
}

// ValidateMedia checks the declared size and media type of an upload.
func ValidateMedia(contentType string, size int64) error {
	if size > MaxUploadBytes {
		return ErrFileTooLarge
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !allowedMediaTypes[mediaType] {
		return ErrUnsupportedMedia
	}
	return nil
}

// IngestService runs the upload pipeline: blob upload, transcription,
// summarization, then persistence. Stages run sequentially and the first
// failure stops the pipeline without undoing earlier stages.
type IngestService struct {
	blobs       BlobStore
	transcriber Transcriber
	summarizer  Summarizer
	videos      VideoRepository
	events      EventPublisher
	newKey      func(filename string) string
}

func NewIngestService(
	blobs BlobStore,
	transcriber Transcriber,
	summarizer Summarizer,
	videos VideoRepository,
	events EventPublisher,
) *IngestService {
	return &IngestService{
		blobs:       blobs,
		transcriber: transcriber,
		summarizer:  summarizer,
		videos:      videos,
		events:      events,
		newKey:      storage.NewObjectKey,
	}
}

// Process runs every stage for in and returns the stored video. Failures
// are returned as *PipelineError.
func (s *IngestService) Process(ctx context.Context, in Upload) (types.Video, error) {
	if in.File == nil {
		return types.Video{}, ErrNoFile
	}
	if err := ValidateMedia(in.ContentType, in.Size); err != nil {
		return types.Video{}, err
	}

	logger := zerolog.Ctx(ctx).With().Int("user_id", in.OwnerID).Str("filename", in.Filename).Logger()
	metrics.RecordUploadSize(in.Size)

	key := s.newKey(in.Filename)
	err := s.stage(ctx, StageBlobUpload, func() error {
		return s.blobs.Put(ctx, key, in.File, in.Size, in.ContentType)
	})
	if err != nil {
		return types.Video{}, err
	}
	videoURL := s.blobs.URL(key)
	logger.Debug().Str("blob_key", key).Msg("media stored")

	var transcript string
	err = s.stage(ctx, StageTranscription, func() error {
		if _, err := in.File.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind upload: %w", err)
		}
		var err error
		transcript, err = s.transcriber.Transcribe(ctx, in.File, in.Filename)
		return err
	})
	if err != nil {
		return types.Video{}, err
	}
	logger.Debug().Int("transcript_length", len(transcript)).Msg("media transcribed")

	var summary []byte
	err = s.stage(ctx, StageSummarization, func() error {
		notes, err := s.summarizer.Summarize(ctx, transcript)
		if err != nil {
			return err
		}
		summary, err = json.Marshal(notes)
		return err
	})
	if err != nil {
		return types.Video{}, err
	}

	var video types.Video
	err = s.stage(ctx, StagePersist, func() error {
		var err error
		video, err = s.videos.Create(ctx, types.Video{
			Title:      resolveTitle(in.Title, in.Filename),
			VideoURL:   videoURL,
			BlobKey:    key,
			Transcript: transcript,
			Summary:    summary,
			UserID:     in.OwnerID,
		})
		return err
	})
	if err != nil {
		return types.Video{}, err
	}

	metrics.RecordVideoProcessed()
	logger.Info().Int("video_id", video.ID).Msg("video processed")
	publish(ctx, s.events, mq.VideoEvent{
		Type:     mq.EventVideoCreated,
		VideoID:  video.ID,
		UserID:   video.UserID,
		Title:    video.Title,
		VideoURL: video.VideoURL,
	})
	return video, nil
}

func (s *IngestService) stage(ctx context.Context, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordPipelineStage(string(stage), time.Since(start), err)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("stage", string(stage)).Msg("pipeline stage failed")
		return &PipelineError{Stage: stage, Err: err}
	}
	return nil
}

func resolveTitle(title, filename string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if name := strings.TrimSpace(filepath.Base(filename)); name != "" && name != "." && name != "/" {
		return name
	}
	return defaultTitle
}
