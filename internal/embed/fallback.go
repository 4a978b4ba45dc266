package embed

import (
	"context"
	"log/slog"
)

// FallbackEmbedder tries the primary backend and falls back to the
// secondary on any error. The primary's error is logged, not returned,
// unless the fallback fails too.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
	log      *slog.Logger
}

// NewFallback decorates primary with fallback.
func NewFallback(primary, fallback Embedder, log *slog.Logger) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, fallback: fallback, log: log}
}

// Name implements Embedder.
func (e *FallbackEmbedder) Name() string {
	return e.primary.Name() + "+" + e.fallback.Name()
}

// Embed implements Embedder.
func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	e.log.Warn("primary embedder failed, trying fallback",
		"primary", e.primary.Name(),
		"fallback", e.fallback.Name(),
		"error", err,
	)
	return e.fallback.Embed(ctx, text)
}
