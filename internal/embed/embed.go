// Package embed turns chunk text into vectors. Two back-ends are
// provided (a local HTTP server and an OpenAI-compatible API) plus a
// fallback decorator that tries the primary first.
package embed

import "context"

// Embedder computes an embedding vector for one text.
type Embedder interface {
	// Embed returns the vector for text. Implementations classify
	// transient HTTP failures as retryable embedding errors.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the backend for logs and stats.
	Name() string
}
