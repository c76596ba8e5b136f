package services

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/notezilla/apiserver/internal/metrics"
	"github.com/notezilla/apiserver/internal/mq"
	"github.com/notezilla/apiserver/internal/storage"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
)

// VideoRepository defines persistence operations for processed videos.
type VideoRepository interface {
	Create(ctx context.Context, video types.Video) (types.Video, error)
	GetByID(ctx context.Context, id int) (types.Video, error)
	ListByOwner(ctx context.Context, ownerID int) ([]types.VideoListItem, error)
	UpdateTitle(ctx context.Context, id int, title string) error
	Delete(ctx context.Context, id int) error
}

// BlobStore is the object storage used for uploaded media.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// EventPublisher receives video lifecycle events.
type EventPublisher interface {
	PublishVideoEvent(ctx context.Context, event mq.VideoEvent) error
}

// VideoService encapsulates owner-scoped video use-cases.
type VideoService struct {
	repo   VideoRepository
	blobs  BlobStore
	events EventPublisher
}

func NewVideoService(repo VideoRepository, blobs BlobStore, events EventPublisher) *VideoService {
	return &VideoService{repo: repo, blobs: blobs, events: events}
}

// Get returns the video when ownerID owns it. Videos of other users are
// reported as store.ErrNotFound so their existence is not disclosed.
func (s *VideoService) Get(ctx context.Context, id, ownerID int) (types.Video, error) {
	video, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Video{}, err
	}
	if video.UserID != ownerID {
		return types.Video{}, store.ErrNotFound
	}
	return video, nil
}

// List returns the owner's videos, newest first.
func (s *VideoService) List(ctx context.Context, ownerID int) ([]types.VideoListItem, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// UpdateTitle renames a video. Only the owner may rename it.
func (s *VideoService) UpdateTitle(ctx context.Context, id, ownerID int, title string) (types.Video, error) {
	video, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return types.Video{}, err
	}

	title = strings.TrimSpace(title)
	if err := s.repo.UpdateTitle(ctx, id, title); err != nil {
		return types.Video{}, err
	}
	video.Title = title
	return video, nil
}

// Delete removes the video row and then its blob. Blob removal and the
// deletion event are best effort.
func (s *VideoService) Delete(ctx context.Context, id, ownerID int) error {
	video, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx)
	if video.BlobKey != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, video.BlobKey); err != nil {
			logger.Warn().Err(err).Str("blob_key", video.BlobKey).Msg("failed to delete video blob")
		}
	}
	publish(ctx, s.events, mq.VideoEvent{
		Type:    mq.EventVideoDeleted,
		VideoID: video.ID,
		UserID:  video.UserID,
		Title:   video.Title,
	})
	return nil
}

// OpenMedia opens the stored media of an owned video.
func (s *VideoService) OpenMedia(ctx context.Context, id, ownerID int) (io.ReadCloser, types.Video, error) {
	video, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, types.Video{}, err
	}
	if video.BlobKey == "" || s.blobs == nil {
		return nil, types.Video{}, store.ErrNotFound
	}
	r, err := s.blobs.Get(ctx, video.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, types.Video{}, store.ErrNotFound
		}
		return nil, types.Video{}, err
	}
	return r, video, nil
}

func (s *VideoService) owned(ctx context.Context, id, ownerID int) (types.Video, error) {
	video, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Video{}, err
	}
	if video.UserID != ownerID {
		return types.Video{}, ErrForbidden
	}
	return video, nil
}

func publish(ctx context.Context, events EventPublisher, event mq.VideoEvent) {
	if events == nil {
		return
	}
	if err := events.PublishVideoEvent(ctx, event); err != nil {
		metrics.RecordEventPublishFailure(event.Type)
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", event.Type).Int("video_id", event.VideoID).Msg("failed to publish event")
	}
}
