// Package generation streams card content from an OpenAI-compatible chat
// completions endpoint.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"genui-canvas/core"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 1.0
)

// SystemPrompt steers the model towards short, visual cards.
const SystemPrompt = `You are a helpful assistant that generates cards to be put on a canvas for ideation, planning, research, etc.

<rules>
  - Generate short and to-the-point cards. Do not try to pack all information into one card.
  - Generate visually rich cards, with layouts, mini cards, charts, images, etc.
  - Do not use accordions
  - Do not add follow ups to cards
  - You will either receive messages from the user as plain strings, or in the format: {prompt: string, context: object}.
  - For comparison, prefer tables and layouts
</rules>`

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("generation API key is not configured")

type (
	Config struct {
		APIKey string
		// BaseURL includes the API version, e.g. https://api.openai.com/v1.
		// Empty means the OpenAI default.
		BaseURL      string
		Model        string
		Temperature  float64
		SystemPrompt string
		HTTPClient   *http.Client
	}

	// Client implements core.ContentSource.
	Client struct {
		cfg Config
		llm llms.Model
	}
)

// ConfigFromEnv reads OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   os.Getenv("OPENAI_MODEL"),
	}
	if cfg.APIKey == "" {
		logrus.Warn("OPENAI_API_KEY environment variable not set. Card generation will not work.")
	}
	return cfg
}

// NewClient builds the completion backend. Without an API key the client
// stays unconfigured and every stream fails with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt
	}
	c := &Client{cfg: cfg}
	if cfg.APIKey == "" {
		return c
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		logrus.WithError(err).Error("Failed to create completion client")
		return c
	}
	c.llm = llm
	return c
}

// Configured reports whether completions can be requested.
func (c *Client) Configured() bool { return c.llm != nil }

// Messages builds the conversation for req: the system prompt, the previous
// response as an assistant turn when there is one, then the user turn. With
// context, the user turn is {prompt: ..., context: ...}.
func (c *Client) Messages(req core.GenerationRequest) []llms.MessageContent {
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, c.cfg.SystemPrompt)}
	if req.PreviousResponse != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, req.PreviousResponse))
	}
	user := req.Prompt
	if req.Context != "" {
		user = fmt.Sprintf("{prompt: %s, context: %s}", req.Prompt, req.Context)
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, user))
}

// Deltas streams the completion for req and calls fn with each content
// fragment. It returns when the stream ends, fn fails, or ctx is done.
func (c *Client) Deltas(ctx context.Context, req core.GenerationRequest, fn func(delta string) error) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	_, err := c.llm.GenerateContent(ctx, c.Messages(req),
		llms.WithTemperature(c.cfg.Temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return fn(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("generating completion: %w", err)
	}
	return nil
}

// Stream implements core.ContentSource. A cancelled ctx ends the stream
// without reporting an error through cb.
func (c *Client) Stream(ctx context.Context, req core.GenerationRequest, cb core.StreamCallbacks) error {
	log := logrus.WithField("model", c.cfg.Model)
	if cb.OnStreamStart != nil {
		cb.OnStreamStart()
	}

	var acc strings.Builder
	err := c.Deltas(ctx, req, func(delta string) error {
		acc.WriteString(delta)
		if cb.OnResponseUpdate != nil {
			cb.OnResponseUpdate(acc.String())
		}
		return nil
	})

	switch {
	case ctx.Err() != nil:
		log.Debug("Completion stream abandoned")
		return ctx.Err()
	case err != nil:
		log.WithError(err).Error("Completion stream failed")
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	log.WithField("content_length", acc.Len()).Debug("Completion stream finished")
	if cb.OnStreamEnd != nil {
		cb.OnStreamEnd()
	}
	return nil
}
