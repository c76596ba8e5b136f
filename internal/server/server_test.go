package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/notezilla/apiserver/config"
	"github.com/notezilla/apiserver/internal/db"
	"github.com/notezilla/apiserver/internal/mq"
	"github.com/notezilla/apiserver/internal/storage"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryBlobs) URL(key string) string {
	return "http://blobs.test/notezilla/" + key
}

func (m *memoryBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(ctx context.Context, media io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(media)
	if err != nil {
		return "", err
	}
	return "transcript of " + string(data), nil
}

type stubSummarizer struct {
	err error
}

func (s stubSummarizer) Summarize(ctx context.Context, transcript string) (types.Summary, error) {
	if s.err != nil {
		return types.Summary{}, s.err
	}
	return types.Summary{
		Title:    "Notes",
		Sections: []types.SummarySection{{Heading: "Main", Points: []string{transcript}}},
	}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []mq.VideoEvent
}

func (r *recordingEvents) PublishVideoEvent(ctx context.Context, event mq.VideoEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type testServer struct {
	*httptest.Server
	blobs  *memoryBlobs
	events *recordingEvents
}

func newTestServer(t *testing.T, summarizer stubSummarizer) *testServer {
	t.Helper()
	cfg := config.Config{
		Auth: config.AuthConfig{JWTSecret: "server-test-secret"},
		Database: config.DatabaseConfig{
			Driver: db.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "server.db"),
		},
		AllowedOrigins: []string{"http://localhost:5173"},
	}
	require.NoError(t, db.MigrateUp(cfg.Database))
	conn, err := db.Open(context.Background(), cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	blobs := &memoryBlobs{objects: map[string][]byte{}}
	events := &recordingEvents{}
	router, err := NewRouter(context.Background(), cfg, Dependencies{
		DB:          conn,
		Blobs:       blobs,
		Transcriber: echoTranscriber{},
		Summarizer:  summarizer,
		Events:      events,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, blobs: blobs, events: events}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func (s *testServer) doJSON(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return s.do(t, method, path, token, bytes.NewReader(payload), "application/json")
}

type authData struct {
	Token string `json:"token"`
	User  struct {
		ID   int    `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func (s *testServer) register(t *testing.T, email string) authData {
	t.Helper()
	status, env := s.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"firstName": "Test",
		"lastName":  "User",
		"email":     email,
		"password":  "secret1",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var data authData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

type uploadData struct {
	ID                int             `json:"id"`
	Title             string          `json:"title"`
	VideoURL          string          `json:"videoUrl"`
	Transcript        string          `json:"transcript"`
	TranscriptSummary json.RawMessage `json:"transcriptSummary"`
	APICalls          int             `json:"apiCalls"`
	RemainingCalls    int             `json:"remainingCalls"`
}

func (s *testServer) upload(t *testing.T, token, filename, contentType, title string, content []byte) (int, envelope) {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if title != "" {
		require.NoError(t, form.WriteField("title", title))
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	return s.do(t, http.MethodPost, "/api/v1/videos/upload", token, &body, form.FormDataContentType())
}

func TestRegisterThenUploadWithoutToken(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})

	status, env := srv.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"firstName": "A",
		"lastName":  "B",
		"email":     "a@b.com",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, env.Success)
	assert.NotContains(t, string(env.Data), "password")

	var data struct {
		Token string `json:"token"`
		User  struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Email     string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.Token)
	assert.Equal(t, "A", data.User.FirstName)
	assert.Equal(t, "B", data.User.LastName)
	assert.Equal(t, "a@b.com", data.User.Email)

	status, env = srv.upload(t, "", "clip.mp4", "video/mp4", "", []byte("bytes"))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Missing token", env.Message)
}

func TestUploadPipeline(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})
	user := srv.register(t, "uploader@b.com")

	status, env := srv.upload(t, user.Token, "lecture.mp4", "video/mp4", "Week 1", []byte("hello"))
	require.Equal(t, http.StatusCreated, status, env.Message)

	var data uploadData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotZero(t, data.ID)
	assert.Equal(t, "Week 1", data.Title)
	assert.Contains(t, data.VideoURL, "http://blobs.test/notezilla/")
	assert.Equal(t, "transcript of hello", data.Transcript)
	assert.JSONEq(t, `{"title":"Notes","sections":[{"heading":"Main","points":["transcript of hello"]}]}`, string(data.TranscriptSummary))
	assert.Equal(t, 1, data.APICalls)
	assert.Equal(t, 19, data.RemainingCalls)
	assert.Equal(t, 1, srv.blobs.count())

	require.Len(t, srv.events.events, 1)
	assert.Equal(t, mq.EventVideoCreated, srv.events.events[0].Type)
	assert.Equal(t, data.ID, srv.events.events[0].VideoID)

	status, env = srv.do(t, http.MethodGet, fmt.Sprintf("/api/v1/videos/summary/%d", data.ID), user.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	var got struct {
		Video types.Video `json:"video"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Week 1", got.Video.Title)
	assert.Equal(t, "transcript of hello", got.Video.Transcript)
	assert.Equal(t, user.User.ID, got.Video.UserID)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/videos/summary/%d/media", srv.URL, data.ID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+user.Token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	media, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "hello", string(media))
}

func TestUploadDefaultsTitleToFilename(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})
	user := srv.register(t, "title@b.com")

	status, env := srv.upload(t, user.Token, "podcast.mp3", "audio/mpeg", "", []byte("audio"))
	require.Equal(t, http.StatusCreated, status, env.Message)

	var data uploadData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "podcast.mp3", data.Title)
}

func TestUploadRejections(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})
	user := srv.register(t, "reject@b.com")

	status, env := srv.upload(t, user.Token, "notes.txt", "text/plain", "", []byte("text"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Unsupported media type", env.Message)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("title", "no file"))
	require.NoError(t, form.Close())
	status, env = srv.do(t, http.MethodPost, "/api/v1/videos/upload", user.Token, &body, form.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No file uploaded", env.Message)
	assert.Zero(t, srv.blobs.count())
}

func TestUploadSummarizationFailure(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{err: errors.New("no JSON object found in response")})
	user := srv.register(t, "fail@b.com")

	status, env := srv.upload(t, user.Token, "lecture.mp4", "video/mp4", "", []byte("hello"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Summarization failed", env.Message)
	assert.NotContains(t, string(env.Error), "no JSON object")

	// The stored blob is not rolled back and no record is created.
	assert.Equal(t, 1, srv.blobs.count())
	status, env = srv.do(t, http.MethodGet, "/api/v1/videos/summaries", user.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"videos":[]}`, string(env.Data))
}

func TestSummariesNewestFirstAndOwnership(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})
	owner := srv.register(t, "owner@b.com")
	other := srv.register(t, "other@b.com")

	var ids []int
	for _, title := range []string{"first", "second", "third"} {
		status, env := srv.upload(t, owner.Token, title+".mp4", "video/mp4", title, []byte(title))
		require.Equal(t, http.StatusCreated, status, env.Message)
		var data uploadData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		ids = append(ids, data.ID)
	}

	status, env := srv.do(t, http.MethodGet, "/api/v1/videos/summaries", owner.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Videos []types.VideoListItem `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Videos, 3)
	assert.Equal(t, []int{ids[2], ids[1], ids[0]}, []int{list.Videos[0].ID, list.Videos[1].ID, list.Videos[2].ID})

	path := fmt.Sprintf("/api/v1/videos/summary/%d", ids[0])

	status, _ = srv.doJSON(t, http.MethodPut, path, other.Token, map[string]string{"title": "hijacked"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = srv.do(t, http.MethodGet, path, other.Token, nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, env = srv.do(t, http.MethodGet, path, owner.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	var got struct {
		Video types.Video `json:"video"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "first", got.Video.Title)

	status, _ = srv.doJSON(t, http.MethodPut, path, owner.Token, map[string]string{"title": " "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = srv.doJSON(t, http.MethodPut, path, owner.Token, map[string]string{"title": "renamed"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "renamed", got.Video.Title)

	status, _ = srv.do(t, http.MethodDelete, path, other.Token, nil, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = srv.do(t, http.MethodDelete, path, owner.Token, nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, srv.blobs.count())

	status, _ = srv.do(t, http.MethodGet, path, owner.Token, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = srv.do(t, http.MethodDelete, path, owner.Token, nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = srv.do(t, http.MethodGet, "/api/v1/videos/summary/abc", owner.Token, nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProfile(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})
	user := srv.register(t, "profile@b.com")

	status, _ := srv.upload(t, user.Token, "a.mp4", "video/mp4", "", []byte("a"))
	require.Equal(t, http.StatusCreated, status)

	status, env := srv.do(t, http.MethodGet, "/api/v1/user/profile", user.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	var profile struct {
		Email             string `json:"email"`
		APICalls          int    `json:"apiCalls"`
		APICallsRemaining int    `json:"apiCallsRemaining"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "profile@b.com", profile.Email)
	assert.Equal(t, 1, profile.APICalls)
	assert.Equal(t, 19, profile.APICallsRemaining)
}

func TestAdminReports(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})
	user := srv.register(t, "member@b.com")

	status, _ := srv.do(t, http.MethodGet, "/api/v1/admin/users", user.Token, nil, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, env := srv.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    seedAdminEmail,
		"password": seedAdminPass,
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var admin authData
	require.NoError(t, json.Unmarshal(env.Data, &admin))
	assert.Equal(t, types.RoleAdmin, admin.User.Role)

	status, env = srv.do(t, http.MethodGet, "/api/v1/admin/users", admin.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	var users struct {
		Users      []types.User `json:"users"`
		TotalUsers int          `json:"totalUsers"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &users))
	assert.Equal(t, 2, users.TotalUsers)
	assert.Len(t, users.Users, 2)

	status, env = srv.do(t, http.MethodGet, "/api/v1/admin/endpoints", admin.Token, nil, "")
	require.Equal(t, http.StatusOK, status)
	var endpoints struct {
		Stats         []types.EndpointStat `json:"stats"`
		TotalRequests int                  `json:"totalRequests"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &endpoints))

	counts := map[string]int{}
	total := 0
	for _, stat := range endpoints.Stats {
		counts[stat.Method+" "+stat.Endpoint] = stat.Count
		total += stat.Count
	}
	assert.Equal(t, total, endpoints.TotalRequests)
	assert.Equal(t, 1, counts["POST /api/v1/auth/register"])
	assert.Equal(t, 1, counts["POST /api/v1/auth/login"])
	// The rejected member request is counted too; only 404s are skipped.
	assert.Equal(t, 2, counts["GET /api/v1/admin/users"])
}

func TestLegacyRootRoutes(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})

	status, env := srv.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"firstName": "L",
		"lastName":  "R",
		"email":     "legacy@b.com",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)

	status, _ = srv.do(t, http.MethodGet, "/videos/summaries", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, stubSummarizer{})

	status, env := srv.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestServeDrainsInFlightRequestsOnCancel(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := &Server{
		httpServer: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			<-release
			w.WriteHeader(http.StatusCreated)
		})},
		logger:          zerolog.Nop(),
		shutdownTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- srv.serve(ctx, ln)
	}()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/v1/videos/upload", "text/plain", nil)
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-entered
	cancel()

	select {
	case err := <-served:
		t.Fatalf("serve returned while an upload was in flight: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, http.StatusCreated, <-status)
	require.NoError(t, <-served)
}

func TestServeReturnsListenerErrors(t *testing.T) {
	srv := &Server{httpServer: &http.Server{Handler: http.NotFoundHandler()}, logger: zerolog.Nop()}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = srv.serve(context.Background(), ln)
	assert.Error(t, err)
}
