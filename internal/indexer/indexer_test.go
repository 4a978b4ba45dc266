package indexer

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/ids"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/vectorstore"
)

type fakeVectors struct {
	dim      uint64
	points   map[string]vectorstore.Point // keyed by chunk id
	deleted  []string
	upserts  int
	scrolled int
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{points: map[string]vectorstore.Point{}}
}

func (f *fakeVectors) EnsureCollection(_ context.Context, dim uint64) error {
	f.dim = dim
	return nil
}

func (f *fakeVectors) GetPayloads(_ context.Context, chunkIDs []string) (map[string]vectorstore.ChunkPayload, error) {
	out := map[string]vectorstore.ChunkPayload{}
	for _, id := range chunkIDs {
		if p, ok := f.points[id]; ok {
			out[id] = p.Payload
		}
	}
	return out, nil
}

func (f *fakeVectors) Upsert(_ context.Context, points []vectorstore.Point) error {
	f.upserts++
	for _, p := range points {
		f.points[p.ChunkID] = p
	}
	return nil
}

func (f *fakeVectors) ScrollChunkIDs(_ context.Context, _ *qdrant.Filter, _ uint32, fn func(pointID, chunkID string) error) error {
	f.scrolled++
	for id := range f.points {
		if err := fn(ids.PointUUID(id), id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeVectors) DeletePoints(_ context.Context, pointIDs []string) error {
	f.deleted = append(f.deleted, pointIDs...)
	for chunkID, p := range f.points {
		for _, doomed := range pointIDs {
			if ids.PointUUID(p.ChunkID) == doomed {
				delete(f.points, chunkID)
			}
		}
	}
	return nil
}

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Name() string { return "counting" }
func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{float32(len(text)), 1, 2}, nil
}

func seedChunk(t *testing.T, store *storage.Store, idNorma, idUnidad string, index int, texto string) *storage.ChunkSemantico {
	t.Helper()
	hash := ids.Chunking("recursive", 1200, 150)
	c := &storage.ChunkSemantico{
		IDChunk:      ids.Chunk(idUnidad, hash, index, ids.TextHash(texto)),
		IDUnidad:     idUnidad,
		IDNorma:      idNorma,
		ChunkIndex:   index,
		Texto:        texto,
		TextoHash:    ids.TextHash(texto),
		ChunkingHash: hash,
		ChunkMethod:  "recursive",
		ChunkSize:    1200,
		ChunkOverlap: 150,
		UnidadTipo:   "ARTICULO",
		UnidadRef:    "Art. 1",
	}
	_, err := store.UpsertChunkSemantico(context.Background(), c, time.Now().UTC())
	require.NoError(t, err)
	return c
}

func newTestIndexer(t *testing.T) (*storage.Store, *fakeVectors, *countingEmbedder, *Indexer) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "boerag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vectors := newFakeVectors()
	embedder := &countingEmbedder{}
	ix := New(store, vectors, embedder, config.IndexerConfig{BatchSize: 2}, slog.New(slog.DiscardHandler))
	return store, vectors, embedder, ix
}

func TestRun_UpsertsThenSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	store, vectors, embedder, ix := newTestIndexer(t)

	seedChunk(t, store, "BOE-A-2015-1", "u1", 0, "Artículo primero, texto completo.")
	seedChunk(t, store, "BOE-A-2015-1", "u1", 1, "Continuación del artículo primero.")
	seedChunk(t, store, "BOE-A-2015-1", "u2", 0, "Disposición final única.")

	stats, err := ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ChunksSeen)
	assert.Equal(t, 3, stats.Upserted)
	assert.Equal(t, 0, stats.SkippedSameHash)
	assert.Equal(t, uint64(3), vectors.dim, "dim probed from the first document")
	assert.Equal(t, 3, embedder.calls, "probe vector reused for the first chunk")

	stats, err = ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Upserted)
	assert.Equal(t, 3, stats.SkippedSameHash)
	assert.Equal(t, 4, embedder.calls, "second run embeds only the dim probe")
}

func TestRun_CleanupDeletesOrphans(t *testing.T) {
	ctx := context.Background()
	store, vectors, _, ix := newTestIndexer(t)

	kept := seedChunk(t, store, "BOE-A-2015-1", "u1", 0, "Texto vigente.")
	orphanID := ids.Hash("orphan")
	vectors.points[orphanID] = vectorstore.Point{
		ChunkID: orphanID,
		Payload: vectorstore.ChunkPayload{ChunkID: orphanID, IDNorma: "BOE-A-2015-1"},
	}

	stats, err := ix.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphansDeleted)
	assert.Contains(t, vectors.points, kept.IDChunk)
	assert.NotContains(t, vectors.points, orphanID)
}

func TestRun_LimitDisablesCleanup(t *testing.T) {
	ctx := context.Background()
	store, vectors, _, ix := newTestIndexer(t)

	seedChunk(t, store, "BOE-A-2015-1", "u1", 0, "Texto vigente.")
	orphanID := ids.Hash("orphan")
	vectors.points[orphanID] = vectorstore.Point{
		ChunkID: orphanID,
		Payload: vectorstore.ChunkPayload{ChunkID: orphanID},
	}

	stats, err := ix.Run(ctx, Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.OrphansDeleted)
	assert.Zero(t, vectors.scrolled)
	assert.Contains(t, vectors.points, orphanID)
}

func TestRun_ReindexAfterTextChange(t *testing.T) {
	ctx := context.Background()
	store, vectors, _, ix := newTestIndexer(t)

	seedChunk(t, store, "BOE-A-2015-1", "u1", 0, "Texto original.")
	_, err := ix.Run(ctx, Options{})
	require.NoError(t, err)

	// A rebuilt unit produces a new chunk id; the old one becomes an
	// orphan swept by cleanup.
	_, err = store.DeleteChunksForUnidad(ctx, "u1")
	require.NoError(t, err)
	next := seedChunk(t, store, "BOE-A-2015-1", "u1", 0, "Texto modificado.")

	stats, err := ix.Run(ctx, Options{OnlyNorma: "BOE-A-2015-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.OrphansDeleted)
	assert.Contains(t, vectors.points, next.IDChunk)
	assert.Len(t, vectors.points, 1)
}
