package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/notezilla/apiserver/config"
)

const (
	defaultTimeout  = 10 * time.Minute
	maxResponseBody = 32 << 20
)

// ErrNotConfigured is returned when no transcription endpoint is set.
var ErrNotConfigured = errors.New("transcription url is not configured")

// Client posts media to a Whisper-compatible transcription endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a transcription client for cfg.URL.
func NewClient(cfg config.TranscriptionConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads media as the multipart "file" field and returns the
// transcript text. The body is streamed, so media is read exactly once.
func (c *Client) Transcribe(ctx context.Context, media io.Reader, filename string) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(form, media, filename))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription service returned status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	return transcriptFromBody(body), nil
}

func writeForm(form *multipart.Writer, media io.Reader, filename string) error {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == "/" {
		name = "upload.bin"
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, media); err != nil {
		return err
	}
	if err := form.WriteField("response_format", "json"); err != nil {
		return err
	}
	return form.Close()
}

// transcriptFromBody accepts {"text": ...}, {"transcript": ...}, a bare JSON
// string, or plain text. Any other JSON document is returned verbatim.
func transcriptFromBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))

	var asString string
	if err := json.Unmarshal([]byte(trimmed), &asString); err == nil {
		return asString
	}

	var payload struct {
		Text       *string `json:"text"`
		Transcript *string `json:"transcript"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return trimmed
	}
	if payload.Text != nil && *payload.Text != "" {
		return *payload.Text
	}
	if payload.Transcript != nil && *payload.Transcript != "" {
		return *payload.Transcript
	}
	return trimmed
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
