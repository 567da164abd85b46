package reasoning

import (
	"context"
	"fmt"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/llm/gemini"
	"magnus-advisor/pkg/llm/ollama"
	"magnus-advisor/pkg/llm/openai"
	"magnus-advisor/pkg/llm/replay"
)

// NewBackend builds the backend named by cfg.Backend. It runs once at startup; the
// result is never re-selected per call.
func NewBackend(ctx context.Context, cfg *llm.Config) (llm.Backend, error) {
	switch cfg.Backend {
	case llm.BackendOpenAI:
		return openai.New(openai.Options{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			MaxRetries: cfg.MaxRetries,
		})
	case llm.BackendGemini:
		return gemini.New(ctx, gemini.Options{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		})
	case llm.BackendOllama:
		return ollama.New(cfg.BaseURL, cfg.Timeout)
	case llm.BackendReplay:
		return replay.Load(cfg.ReplayPath)
	default:
		return nil, fmt.Errorf("reasoning: unknown backend %q", cfg.Backend)
	}
}

// New builds the configured backend and wraps it in a Provider.
func New(ctx context.Context, cfg *llm.Config, budget *llm.CostBudget) (*Provider, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewProvider(cfg, backend, budget)
}
