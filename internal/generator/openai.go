// Package generator adapts the external text-generation model. It knows
// nothing about sanitization or validation; callers only hand it prompts
// that are already hardened.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"docgate/internal/apperr"
)

// Prompt is a system instruction plus the user turn carrying the
// (sanitized, redacted) documents.
type Prompt struct {
	System string
	User   string
}

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	logger.Info("initializing generator", "model", cfg.Model)
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, p Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: o.cfg.Temperature,
	}
	if o.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = o.cfg.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("generator returned no content")
	}
	o.logger.Debug("generation complete",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// classify maps API failures onto retry semantics: throttling and server
// errors are transient, any other HTTP status is fatal. Transport errors
// stay unclassified and are retried.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("generator request: %w", err)
	}
	if status == http.StatusTooManyRequests || status >= 500 || status == http.StatusRequestTimeout {
		return apperr.Transient("generator", err)
	}
	return apperr.Fatal("generator", err)
}
