package services

import (
	"context"
	"io"
	"testing"

	"github.com/notezilla/apiserver/internal/mq"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVideoFixture(t *testing.T) (*VideoService, *memoryVideos, *memoryBlobs, *recordingEvents, types.Video) {
	t.Helper()
	videos := newMemoryVideos()
	blobs := newMemoryBlobs()
	events := &recordingEvents{}

	blobs.objects["k.mp4"] = []byte("media")
	video, err := videos.Create(context.Background(), types.Video{Title: "Original", BlobKey: "k.mp4", UserID: 1})
	require.NoError(t, err)

	return NewVideoService(videos, blobs, events), videos, blobs, events, video
}

func TestVideoServiceGetScopesByOwner(t *testing.T) {
	svc, _, _, _, video := newVideoFixture(t)

	got, err := svc.Get(context.Background(), video.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)

	_, err = svc.Get(context.Background(), video.ID, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Get(context.Background(), video.ID+1, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVideoServiceUpdateTitleRequiresOwner(t *testing.T) {
	svc, videos, _, _, video := newVideoFixture(t)

	_, err := svc.UpdateTitle(context.Background(), video.ID, 2, "Hijacked")
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := videos.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original", stored.Title)

	updated, err := svc.UpdateTitle(context.Background(), video.ID, 1, " Renamed ")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	_, err = svc.UpdateTitle(context.Background(), video.ID+5, 1, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVideoServiceDelete(t *testing.T) {
	svc, videos, blobs, events, video := newVideoFixture(t)

	assert.ErrorIs(t, svc.Delete(context.Background(), video.ID, 2), ErrForbidden)
	assert.Empty(t, blobs.deleted)

	require.NoError(t, svc.Delete(context.Background(), video.ID, 1))
	_, err := videos.GetByID(context.Background(), video.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{"k.mp4"}, blobs.deleted)
	require.Len(t, events.events, 1)
	assert.Equal(t, mq.EventVideoDeleted, events.events[0].Type)

	assert.ErrorIs(t, svc.Delete(context.Background(), video.ID, 1), store.ErrNotFound)
}

func TestVideoServiceDeleteToleratesBlobFailure(t *testing.T) {
	svc, _, blobs, _, video := newVideoFixture(t)
	blobs.deleteErr = errUpstream

	assert.NoError(t, svc.Delete(context.Background(), video.ID, 1))
}

func TestVideoServiceOpenMedia(t *testing.T) {
	svc, videos, _, _, video := newVideoFixture(t)

	r, got, err := svc.OpenMedia(context.Background(), video.ID, 1)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "media", string(data))
	assert.Equal(t, video.ID, got.ID)

	_, _, err = svc.OpenMedia(context.Background(), video.ID, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	missing, err := videos.Create(context.Background(), types.Video{Title: "gone", BlobKey: "missing.mp4", UserID: 1})
	require.NoError(t, err)
	_, _, err = svc.OpenMedia(context.Background(), missing.ID, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVideoServiceListNewestFirst(t *testing.T) {
	svc, videos, _, _, first := newVideoFixture(t)
	second, err := videos.Create(context.Background(), types.Video{Title: "second", UserID: 1})
	require.NoError(t, err)
	_, err = videos.Create(context.Background(), types.Video{Title: "other", UserID: 2})
	require.NoError(t, err)

	items, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}
