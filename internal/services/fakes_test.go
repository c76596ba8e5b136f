package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/notezilla/apiserver/internal/mq"
	"github.com/notezilla/apiserver/internal/storage"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/types"
)

type memoryVideos struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]types.Video
	err    error
}

func newMemoryVideos() *memoryVideos {
	return &memoryVideos{rows: map[int]types.Video{}}
}

func (m *memoryVideos) Create(ctx context.Context, video types.Video) (types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.Video{}, m.err
	}
	m.nextID++
	video.ID = m.nextID
	video.CreatedAt = time.Unix(int64(m.nextID), 0)
	m.rows[video.ID] = video
	return video, nil
}

func (m *memoryVideos) GetByID(ctx context.Context, id int) (types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	video, ok := m.rows[id]
	if !ok {
		return types.Video{}, store.ErrNotFound
	}
	return video, nil
}

func (m *memoryVideos) ListByOwner(ctx context.Context, ownerID int) ([]types.VideoListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []types.VideoListItem{}
	for _, v := range m.rows {
		if v.UserID == ownerID {
			items = append(items, types.VideoListItem{ID: v.ID, Title: v.Title, CreatedAt: v.CreatedAt})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (m *memoryVideos) UpdateTitle(ctx context.Context, id int, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	video, ok := m.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	video.Title = title
	m.rows[id] = video
	return nil
}

func (m *memoryVideos) Delete(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

type memoryBlobs struct {
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: map[string][]byte{}}
}

func (m *memoryBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memoryBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobs) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memoryBlobs) URL(key string) string {
	return "http://blobs.local/bucket/" + key
}

type fakeTranscriber struct {
	text     string
	err      error
	received []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, media io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(media)
	if err != nil {
		return "", err
	}
	f.received = data
	return f.text, f.err
}

type fakeSummarizer struct {
	summary    types.Summary
	err        error
	transcript string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (types.Summary, error) {
	f.transcript = transcript
	return f.summary, f.err
}

type recordingEvents struct {
	events []mq.VideoEvent
	err    error
}

func (r *recordingEvents) PublishVideoEvent(ctx context.Context, event mq.VideoEvent) error {
	r.events = append(r.events, event)
	return r.err
}

var errUpstream = errors.New("upstream unavailable")
