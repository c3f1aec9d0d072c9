package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/config"
)

var (
	// ErrMissingAPIKey is returned when no LLM key is configured
	ErrMissingAPIKey = errors.New("llm api key is not configured")

	// ErrEmptySummary is returned when the model answers with no text
	ErrEmptySummary = errors.New("model returned an empty summary")
)

// Summarizer turns a prompt into summary text
type Summarizer interface {
	Summarize(ctx context.Context, p Prompt) (string, error)
}

// OpenAISummarizer works with OpenAI and any OpenAI-compatible API
type OpenAISummarizer struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAISummarizer creates a summarizer from the LLM settings
func NewOpenAISummarizer(cfg config.LLMConfig, logger *zap.Logger) (*OpenAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger.Named("summarizer"),
	}, nil
}

// Summarize implements Summarizer
func (s *OpenAISummarizer) Summarize(ctx context.Context, p Prompt) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptySummary
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptySummary
	}

	s.logger.Debug("Summary generated",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return text, nil
}

// IsTransient reports whether a summarizer error is worth retrying:
// rate limits and server side failures from the LLM API.
func IsTransient(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return false
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
