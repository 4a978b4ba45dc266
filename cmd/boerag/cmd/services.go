package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/chunker"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/embed"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/indexer"
	"github.com/normadata/boerag/internal/objectstore"
	"github.com/normadata/boerag/internal/pipeline"
	"github.com/normadata/boerag/internal/queue"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/vectorstore"
)

// services holds the shared clients and stores a command runs with.
// Everything is built at command start and torn down by close.
type services struct {
	cfg     *config.Config
	store   *storage.Store
	objects *objectstore.Store
	client  *boe.Client
}

// openServices builds the doc store, object store and source client.
// --dry-run propagates into both stores.
func openServices() (*services, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	store.DryRun = dryRun

	objects := objectstore.New(cfg.Storage.Root)
	objects.DryRun = dryRun

	svc := &services{
		cfg:     cfg,
		store:   store,
		objects: objects,
		client:  boe.NewClient(cfg.Source),
	}
	return svc, func() { _ = store.Close() }, nil
}

func (s *services) chunkConfig() chunker.Config {
	return chunker.Config{
		Method:  s.cfg.Chunking.Method,
		Size:    s.cfg.Chunking.Size,
		Overlap: s.cfg.Chunking.Overlap,
	}
}

func (s *services) newSyncer() *pipeline.Syncer {
	return pipeline.NewSyncer(s.store, s.objects, s.client, s.cfg.Storage, s.chunkConfig(), rootLog)
}

// dryVectors wraps a vector store so writes become no-ops while reads
// keep working, which lets a dry-run indexer report accurate stats.
type dryVectors struct {
	inner indexer.VectorStore
}

func (d dryVectors) EnsureCollection(context.Context, uint64) error { return nil }

func (d dryVectors) Upsert(context.Context, []vectorstore.Point) error { return nil }

func (d dryVectors) DeletePoints(context.Context, []string) error { return nil }

func (d dryVectors) GetPayloads(ctx context.Context, chunkIDs []string) (map[string]vectorstore.ChunkPayload, error) {
	return d.inner.GetPayloads(ctx, chunkIDs)
}

func (d dryVectors) ScrollChunkIDs(ctx context.Context, filter *qdrant.Filter, batch uint32, fn func(pointID, chunkID string) error) error {
	return d.inner.ScrollChunkIDs(ctx, filter, batch, fn)
}

// openVectors connects to qdrant, wrapping writes when --dry-run.
func (s *services) openVectors() (indexer.VectorStore, func() error, error) {
	vs, err := vectorstore.New(s.cfg.Qdrant, rootLog)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		return dryVectors{inner: vs}, vs.Close, nil
	}
	return vs, vs.Close, nil
}

func (s *services) newEmbedder() (embed.Embedder, error) {
	return embed.New(s.cfg.Embeddings, rootLog)
}

func (s *services) openBroker(ctx context.Context) (*queue.Broker, error) {
	broker := queue.NewBroker(s.cfg.Redis, rootLog)
	if err := broker.Ping(ctx); err != nil {
		_ = broker.Close()
		return nil, err
	}
	return broker, nil
}

// normSelection resolves the shared --norma-id/--all flag pair into the
// norm ids a command operates on.
func (s *services) normSelection(ctx context.Context, normaID string, all bool, maxNormas int) ([]string, error) {
	if normaID != "" {
		return []string{normaID}, nil
	}
	if !all {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "either --norma-id or --all is required")
	}
	ids, err := s.store.ListNormaIDs(ctx)
	if err != nil {
		return nil, err
	}
	if maxNormas > 0 && len(ids) > maxNormas {
		ids = ids[:maxNormas]
	}
	return ids, nil
}

// forEachNorma runs fn over the norm ids with bounded concurrency,
// counting failures instead of aborting. The returned error is non-nil
// only when --fail-on-errors is set and at least one norm failed.
func forEachNorma(ctx context.Context, ids []string, concurrency int, fn func(ctx context.Context, idNorma string) error) (int, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	failures := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := fn(gctx, id); err != nil {
				rootLog.Error("norm failed", "id_norma", id, "error", err)
				failures[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, f := range failures {
		if f {
			failed++
		}
	}
	if failed > 0 && failOnErrors {
		return failed, errors.Newf(errors.ErrCodeInternal, "%d of %d norms failed", failed, len(ids))
	}
	return failed, nil
}

// printJSON writes the stats object commands report on success.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks the user before a destructive operation.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	var answer string
	_, _ = fmt.Fscanln(in, &answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
