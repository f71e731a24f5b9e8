// Package transcribe turns short voice clips into text through an
// OpenAI-compatible speech-to-text endpoint.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned when no API key or base URL is set.
var ErrNotConfigured = errors.New("speech-to-text is not configured")

// Defaults for Config.
const (
	DefaultModel    = openai.Whisper1
	DefaultLanguage = "zh"
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Observer receives the outcome and duration of each request.
type Observer interface {
	RecordTranscription(err error, d time.Duration)
}

// Client wraps go-openai's transcription call.
type Client struct {
	client   *openai.Client
	model    string
	language string
	timeout  time.Duration
	observer Observer
}

// New builds a Client. A blank API key is allowed when BaseURL points at a
// self-hosted server that ignores auth; with neither set, New returns
// ErrNotConfigured.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	lang := cfg.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:   openai.NewClientWithConfig(oc),
		model:    model,
		language: lang,
		timeout:  timeout,
	}, nil
}

// SetObserver attaches a metrics sink.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Transcribe uploads the clip read from r and returns the recognized text,
// trimmed. filename only tells the server the container format.
func (c *Client) Transcribe(ctx context.Context, filename string, r io.Reader) (string, error) {
	if filename == "" {
		filename = "clip.wav"
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filepath.Base(filename),
		Reader:   r,
		Language: c.language,
	})
	if c.observer != nil {
		c.observer.RecordTranscription(err, time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", filename, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
