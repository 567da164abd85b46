// Package ollama adapts a local Ollama server's /api/chat endpoint to llm.Backend.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"magnus-advisor/pkg/llm"
)

const backendName = "ollama"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Backend talks to Ollama over HTTP.
type Backend struct {
	client *resty.Client
}

// New builds a backend for baseURL. timeout bounds the HTTP exchange; the caller's
// context still applies.
func New(baseURL string, timeout time.Duration) (*Backend, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ollama: base url is required")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Backend{client: client}, nil
}

func (b *Backend) Name() string { return backendName }

// Complete posts a non-streaming chat request with the schema as the format constraint.
func (b *Backend) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Options: map[string]any{"temperature": req.Temperature},
	}
	if len(req.Schema) > 0 {
		body.Format = req.Schema
	} else {
		body.Format = "json"
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}

	var out chatResponse
	var apiErr errorResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/chat")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ollama: chat: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode(), apiErr.Error)
		}
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode())
	}
	return &llm.Completion{
		Content: out.Message.Content,
		Model:   out.Model,
		Usage: llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
		},
	}, nil
}
