package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/scan-io-git/triageio/internal/config"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Backend is the raw reasoning service. Implementations return errors wrapped with
// shared.ErrTransient for failures worth retrying.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

const defaultModel = "gpt-4o-mini"

// OpenAIBackend talks to any OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a backend for model. An empty baseURL targets the public OpenAI API.
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Complete sends a system and user message and returns the first choice.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", shared.Transient(fmt.Errorf("chat completion returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError marks throttling, conflicts, timeouts and server errors as transient.
func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if isTransientStatus(status) {
		return shared.Transient(fmt.Errorf("chat completion failed: %w", err))
	}
	return fmt.Errorf("chat completion failed: %w", err)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// NewBackend builds the backend named by oracle.provider. The "none" provider returns nil,
// which makes every oracle operation report itself unavailable.
func NewBackend(cfg *config.Config) (Backend, error) {
	o := cfg.Oracle
	switch strings.ToLower(o.Provider) {
	case "", "openai":
		return NewOpenAIBackend(o.APIKey(), o.BaseURL, o.Model), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported oracle provider %q", o.Provider)
	}
}
