package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// LocalEmbedder posts to a local embedding server. Server shapes vary
// between deployments: the request body is tried as {model, input}
// first and {model, prompt} second, and the response vector is
// accepted under several common field names.
type LocalEmbedder struct {
	url    string
	model  string
	client *http.Client
}

// NewLocal builds a local HTTP embedder.
func NewLocal(url, model string, timeout time.Duration) *LocalEmbedder {
	return &LocalEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Embedder.
func (e *LocalEmbedder) Name() string { return "local" }

// Embed implements Embedder.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	bodies := []map[string]string{
		{"model": e.model, "input": text},
		{"model": e.model, "prompt": text},
	}

	var lastErr error
	for _, body := range bodies {
		vec, err := e.post(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *LocalEmbedder) post(ctx context.Context, body map[string]string) ([]float32, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrCodeEmbeddingFailed, "embedding server returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	vec := parseVector(raw)
	if len(vec) == 0 {
		return nil, errors.Newf(errors.ErrCodeEmbeddingFailed, "embedding server returned no vector")
	}
	return vec, nil
}

// parseVector accepts {embedding:[…]}, {embeddings:[[…]]} and
// {data:[{embedding:[…]}]}.
func parseVector(raw []byte) []float32 {
	var loose struct {
		Embedding  []float32   `json:"embedding"`
		Embeddings [][]float32 `json:"embeddings"`
		Data       []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil
	}
	switch {
	case len(loose.Embedding) > 0:
		return loose.Embedding
	case len(loose.Embeddings) > 0:
		return loose.Embeddings[0]
	case len(loose.Data) > 0:
		return loose.Data[0].Embedding
	default:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
