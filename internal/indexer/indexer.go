// Package indexer synchronizes the semantic chunk store into the
// vector collection. Point ids are deterministic, so a run is
// idempotent: unchanged chunks are skipped by payload comparison and
// orphaned points are garbage-collected against the document store.
package indexer

import (
	"context"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/embed"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/vectorstore"
)

// Options scopes one indexing run.
type Options struct {
	// OnlyNorma restricts the run to one norm's chunks.
	OnlyNorma string
	// Limit caps how many chunks are processed. A non-zero limit
	// disables cleanup: a partial view cannot tell orphans apart from
	// unprocessed points.
	Limit int
	// SkipCleanup disables the orphan sweep even for full runs.
	SkipCleanup bool
}

// Stats accumulates per-run counters.
type Stats struct {
	ChunksSeen      int `json:"chunksSeen"`
	Upserted        int `json:"upserted"`
	SkippedSameHash int `json:"skippedSameHash"`
	OrphansDeleted  int `json:"orphansDeleted"`
	CleanupScanned  int `json:"cleanupScanned"`
}

// VectorStore is the slice of the vector-store surface the indexer
// uses. *vectorstore.Store implements it.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dim uint64) error
	GetPayloads(ctx context.Context, chunkIDs []string) (map[string]vectorstore.ChunkPayload, error)
	Upsert(ctx context.Context, points []vectorstore.Point) error
	ScrollChunkIDs(ctx context.Context, filter *qdrant.Filter, batch uint32, fn func(pointID, chunkID string) error) error
	DeletePoints(ctx context.Context, pointIDs []string) error
}

// Indexer streams chunks into the vector store.
type Indexer struct {
	store    *storage.Store
	vectors  VectorStore
	embedder embed.Embedder
	cfg      config.IndexerConfig
	log      *slog.Logger
}

// New builds an indexer.
func New(store *storage.Store, vectors VectorStore, embedder embed.Embedder, cfg config.IndexerConfig, log *slog.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.CleanupScrollBatchSize <= 0 {
		cfg.CleanupScrollBatchSize = 256
	}
	if cfg.CleanupDeleteBatchSize <= 0 {
		cfg.CleanupDeleteBatchSize = 128
	}
	return &Indexer{store: store, vectors: vectors, embedder: embedder, cfg: cfg, log: log}
}

// Run indexes the chunk set described by opts.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Stats, error) {
	stats := &Stats{}

	chunks, err := ix.store.ListChunksSemanticos(ctx, opts.OnlyNorma, opts.Limit)
	if err != nil {
		return nil, err
	}
	stats.ChunksSeen = len(chunks)
	if len(chunks) == 0 {
		ix.log.Info("no chunks to index")
		return stats, nil
	}

	// The collection dimensionality comes from the first embedded
	// document; the probe vector is reused for that chunk's upsert.
	probe, err := ix.embedder.Embed(ctx, chunks[0].Texto)
	if err != nil {
		return stats, err
	}
	if err := ix.vectors.EnsureCollection(ctx, uint64(len(probe))); err != nil {
		return stats, err
	}
	probed := map[string][]float32{chunks[0].IDChunk: probe}

	for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(chunks))
		if err := ix.indexBatch(ctx, chunks[start:end], probed, stats); err != nil {
			return stats, err
		}
	}

	if opts.Limit == 0 && !opts.SkipCleanup {
		if opts.OnlyNorma != "" {
			err = ix.cleanupNorma(ctx, opts.OnlyNorma, chunks, stats)
		} else {
			err = ix.cleanupCollection(ctx, stats)
		}
		if err != nil {
			return stats, err
		}
	}

	ix.log.Info("index run finished",
		"seen", stats.ChunksSeen,
		"upserted", stats.Upserted,
		"skipped", stats.SkippedSameHash,
		"orphans_deleted", stats.OrphansDeleted,
	)
	return stats, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []*storage.ChunkSemantico, probed map[string][]float32, stats *Stats) error {
	chunkIDs := make([]string, len(batch))
	for i, c := range batch {
		chunkIDs[i] = c.IDChunk
	}
	existing, err := ix.vectors.GetPayloads(ctx, chunkIDs)
	if err != nil {
		return err
	}

	var pending []*storage.ChunkSemantico
	for _, c := range batch {
		if prev, ok := existing[c.IDChunk]; ok && sameIndexedState(prev, c) {
			stats.SkippedSameHash++
			continue
		}
		pending = append(pending, c)
	}
	if len(pending) == 0 {
		return nil
	}

	// Each goroutine writes its own slice slot; g.Wait orders the reads.
	points := make([]vectorstore.Point, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.EmbedConcurrency)
	for i, c := range pending {
		g.Go(func() error {
			vec, ok := probed[c.IDChunk]
			if !ok {
				var err error
				vec, err = ix.embedder.Embed(gctx, c.Texto)
				if err != nil {
					return err
				}
			}
			points[i] = vectorstore.Point{
				ChunkID: c.IDChunk,
				Vector:  vec,
				Payload: vectorstore.PayloadFromChunk(c),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := ix.vectors.Upsert(ctx, points); err != nil {
		return err
	}
	stats.Upserted += len(points)
	return nil
}

// sameIndexedState reports whether the stored payload already reflects
// the chunk, making a re-embed unnecessary.
func sameIndexedState(prev vectorstore.ChunkPayload, c *storage.ChunkSemantico) bool {
	next := vectorstore.PayloadFromChunk(c)
	return prev.IDNorma == next.IDNorma &&
		prev.IDUnidad == next.IDUnidad &&
		prev.TextoHash == next.TextoHash &&
		prev.ChunkingHash == next.ChunkingHash &&
		prev.VigenciaDesdeMs == next.VigenciaDesdeMs &&
		prev.VigenciaHastaMs == next.VigenciaHastaMs
}

// cleanupNorma deletes the norm's points whose chunk id is no longer in
// the document store.
func (ix *Indexer) cleanupNorma(ctx context.Context, idNorma string, chunks []*storage.ChunkSemantico, stats *Stats) error {
	expected := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		expected[c.IDChunk] = true
	}
	return ix.sweep(ctx, vectorstore.NormFilter(idNorma), expected, stats)
}

// cleanupCollection cross-checks the whole collection against the
// authoritative chunk id set.
func (ix *Indexer) cleanupCollection(ctx context.Context, stats *Stats) error {
	expected, err := ix.store.ChunkIDSet(ctx)
	if err != nil {
		return err
	}
	return ix.sweep(ctx, nil, expected, stats)
}

func (ix *Indexer) sweep(ctx context.Context, filter *qdrant.Filter, expected map[string]bool, stats *Stats) error {
	var doomed []string
	flush := func() error {
		if len(doomed) == 0 {
			return nil
		}
		if err := ix.vectors.DeletePoints(ctx, doomed); err != nil {
			return err
		}
		stats.OrphansDeleted += len(doomed)
		doomed = doomed[:0]
		return nil
	}

	err := ix.vectors.ScrollChunkIDs(ctx, filter, uint32(ix.cfg.CleanupScrollBatchSize), func(pointID, chunkID string) error {
		stats.CleanupScanned++
		if chunkID != "" && expected[chunkID] {
			return nil
		}
		doomed = append(doomed, pointID)
		if len(doomed) >= ix.cfg.CleanupDeleteBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}
