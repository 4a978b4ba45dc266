package embed

import (
	"log/slog"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
)

// New builds the configured embedder, wrapping it with the fallback
// decorator when a fallback provider is set.
func New(cfg config.EmbeddingsConfig, log *slog.Logger) (Embedder, error) {
	primary, err := build(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.FallbackProvider == "" {
		return primary, nil
	}

	fallback, err := build(cfg.FallbackProvider, cfg)
	if err != nil {
		return nil, err
	}
	return NewFallback(primary, fallback, log), nil
}

func build(provider string, cfg config.EmbeddingsConfig) (Embedder, error) {
	switch provider {
	case "local":
		return NewLocal(cfg.LocalURL, cfg.Model, cfg.Timeout), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model), nil
	default:
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "unknown embeddings provider %q", provider)
	}
}
