// Package genai provides the LLM operations for ZapAtende using the OpenAI API.
//
// It exposes reply generation, the human-intervention classifier, and the
// best-effort intent/entity/summary analyses consumed by the orchestrator.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Request timeout defaults. LLM calls are bounded so a provider hang is
// converted into an error the caller can recover from.
const (
	// DefaultRequestTimeout bounds a single chat completion round trip.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultModel is used when no model is configured.
	DefaultModel = openai.ChatModelGPT4oMini
)

// ClientInterface defines the LLM operations consumed by the orchestrator.
// Implementations return errors for provider failures; callers apply the
// fail-safe defaults (fallback reply, "needs human" on classifier failure).
type ClientInterface interface {
	// GenerateReply produces the assistant reply for a fully built prompt.
	GenerateReply(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// ClassifyNeedsHuman runs the binary human-intervention classifier.
	ClassifyNeedsHuman(ctx context.Context, prompt string) (bool, error)
	// AnalyzeIntent classifies the customer's intent as free text.
	AnalyzeIntent(ctx context.Context, prompt string) (string, error)
	// ExtractEntities returns the entities mentioned in a message.
	ExtractEntities(ctx context.Context, prompt string) ([]string, error)
	// Summarize produces a conversation summary for the given prompt.
	Summarize(ctx context.Context, prompt string) (string, error)
}

// chatService defines the minimal chat-completions surface used by Client,
// allowing tests to substitute a scripted implementation.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Model   openai.ChatModel
	Timeout time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for all operations.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = openai.ChatModel(model) }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	slog.Debug("genai.NewClient: creating client", "model", cfg.Model, "timeout", cfg.Timeout)

	cli := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// complete runs a single system+user chat completion and returns the trimmed content.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateReply produces the assistant reply for a fully built prompt.
func (c *Client) GenerateReply(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	slog.Debug("genai.GenerateReply: generating", "prompt_length", len(userPrompt))
	reply, err := c.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("genai.GenerateReply: completion failed", "error", err)
		return "", err
	}
	slog.Debug("genai.GenerateReply: generated", "reply_length", len(reply))
	return reply, nil
}

// ClassifyNeedsHuman runs the binary intervention classifier. The model is
// instructed to answer SIM or NAO; any unrecognized answer counts as SIM so
// classification noise fails toward human handoff.
func (c *Client) ClassifyNeedsHuman(ctx context.Context, prompt string) (bool, error) {
	answer, err := c.complete(ctx, "", prompt)
	if err != nil {
		slog.Error("genai.ClassifyNeedsHuman: completion failed", "error", err)
		return false, err
	}

	normalized := strings.ToUpper(strings.TrimSpace(answer))
	switch {
	case strings.HasPrefix(normalized, "NÃO"), strings.HasPrefix(normalized, "NAO"):
		return false, nil
	case strings.HasPrefix(normalized, "SIM"):
		return true, nil
	default:
		slog.Warn("genai.ClassifyNeedsHuman: unexpected classifier output, treating as needs human", "answer", answer)
		return true, nil
	}
}

// AnalyzeIntent classifies the customer's intent as free text.
func (c *Client) AnalyzeIntent(ctx context.Context, prompt string) (string, error) {
	intent, err := c.complete(ctx, "", prompt)
	if err != nil {
		slog.Error("genai.AnalyzeIntent: completion failed", "error", err)
		return "", err
	}
	return intent, nil
}

// ExtractEntities returns the entities mentioned in a message. The model is
// instructed to answer a comma-separated list; empty items are dropped.
func (c *Client) ExtractEntities(ctx context.Context, prompt string) ([]string, error) {
	answer, err := c.complete(ctx, "", prompt)
	if err != nil {
		slog.Error("genai.ExtractEntities: completion failed", "error", err)
		return nil, err
	}
	return ParseEntityList(answer), nil
}

// Summarize produces a conversation summary for the given prompt.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	summary, err := c.complete(ctx, "", prompt)
	if err != nil {
		slog.Error("genai.Summarize: completion failed", "error", err)
		return "", err
	}
	return summary, nil
}

// ParseEntityList splits a comma-separated model answer into distinct trimmed
// entities, dropping empties and the literal "nenhuma" no-entities marker.
func ParseEntityList(answer string) []string {
	var entities []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(answer, ",") {
		entity := strings.TrimSpace(part)
		if entity == "" || strings.EqualFold(entity, "nenhuma") {
			continue
		}
		if seen[strings.ToLower(entity)] {
			continue
		}
		seen[strings.ToLower(entity)] = true
		entities = append(entities, entity)
	}
	return entities
}
