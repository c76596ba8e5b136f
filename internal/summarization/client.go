package summarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/notezilla/apiserver/config"
	"github.com/notezilla/apiserver/types"
	"github.com/rs/zerolog"
)

const (
	defaultURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel     = "deepseek/deepseek-r1"
	defaultMaxTokens = 4096
	defaultTimeout   = 3 * time.Minute
	maxResponseBody  = 8 << 20
)

const systemPrompt = "You convert lecture transcripts into clean, structured JSON study notes. " +
	"ALWAYS return valid JSON. NEVER return HTML, markdown, or explanations. " +
	"Do NOT wrap the JSON in code fences. Do NOT add any text before or after the JSON."

const userPromptTemplate = "Convert the following transcript into structured JSON with this exact format:\n\n" +
	"{\n" +
	"  \"title\": \"string\",\n" +
	"  \"sections\": [\n" +
	"    {\n" +
	"      \"heading\": \"string\",\n" +
	"      \"points\": [\"string\", \"string\"]\n" +
	"    }\n" +
	"  ]\n" +
	"}\n\n" +
	"If there is not enough info for a field, use an empty string or empty array.\n\n" +
	"Transcript:\n\n"

type ChatCompletionRequest struct {
	Model     string                  `json:"model"`
	Messages  []ChatCompletionMessage `json:"messages"`
	MaxTokens int                     `json:"max_tokens"`
}

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatCompletionMessage `json:"message"`
	} `json:"choices"`
}

// Client turns transcripts into structured notes through an
// OpenAI-compatible chat completions API.
type Client struct {
	url        string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(cfg config.SummarizationConfig) *Client {
	c := &Client{
		url:        strings.TrimSpace(cfg.URL),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if c.url == "" {
		c.url = defaultURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = defaultTimeout
	}
	return c
}

// Summarize asks the model for notes on transcript and decodes its answer.
func (c *Client) Summarize(ctx context.Context, transcript string) (types.Summary, error) {
	raw, err := c.complete(ctx, transcript)
	if err != nil {
		return types.Summary{}, err
	}

	summary, err := ParseSummary(raw)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Str("raw", truncate(raw, 2048)).Msg("unparseable summarization response")
		return types.Summary{}, err
	}
	return summary, nil
}

func (c *Client) complete(ctx context.Context, transcript string) (string, error) {
	payload, err := json.Marshal(ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []ChatCompletionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPromptTemplate + transcript},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("summarization service returned status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var completion ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
