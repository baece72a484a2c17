package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/voxnote/pkg/observability"
)

// ErrTranscriptionFailed wraps every provider failure
var ErrTranscriptionFailed = errors.New("transcription provider failed")

// Provider turns audio into text and text into derived notes
type Provider interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
	ExtractIdeas(ctx context.Context, text string) (string, error)
}

// Config for the OpenAI-compatible client
type Config struct {
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	CompletionModel    string
	Timeout            time.Duration
	RequestsPerSecond  float64
}

// Client speaks the OpenAI audio and chat completion endpoints
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records provider call latency
func WithMetrics(metrics *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = metrics }
}

// NewClient creates a Client. Outbound requests are traced.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.lemonfox.ai/v1"
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = "llama-70b-chat"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audio to /audio/transcriptions and returns the text
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (text string, err error) {
	defer c.observe("transcribe", time.Now(), &err)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", c.cfg.TranscriptionModel); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("%w: failed to read audio: %w", ErrTranscriptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	var resp transcriptionResponse
	if err := c.do(ctx, "/audio/transcriptions", w.FormDataContentType(), &body, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Summarize returns a concise summary of text
func (c *Client) Summarize(ctx context.Context, text string) (summary string, err error) {
	defer c.observe("summarize", time.Now(), &err)
	return c.complete(ctx, summaryPrompt+text)
}

// ExtractIdeas returns the key ideas of text as a bullet list
func (c *Client) ExtractIdeas(ctx context.Context, text string) (ideas string, err error) {
	defer c.observe("extract_ideas", time.Now(), &err)
	return c.complete(ctx, ideasPrompt+text)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.CompletionModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	var resp chatResponse
	if err := c.do(ctx, "/chat/completions", "application/json", bytes.NewReader(payload), &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrTranscriptionFailed)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrTranscriptionFailed, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", ErrTranscriptionFailed, path, err)
	}
	return nil
}

func (c *Client) observe(op string, started time.Time, err *error) {
	c.metrics.ObserveProviderCall("transcription", op, started, *err)
}
