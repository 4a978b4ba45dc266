package chunker

import (
	"context"
	"log/slog"
	"time"

	"github.com/normadata/boerag/internal/ids"
	"github.com/normadata/boerag/internal/storage"
)

// Engine runs the build_chunks stage: split, filter, upsert and GC.
type Engine struct {
	store *storage.Store
	cfg   Config
	log   *slog.Logger
}

// NewEngine wires a chunk engine over the document store.
func NewEngine(store *storage.Store, cfg Config, log *slog.Logger) *Engine {
	return &Engine{store: store, cfg: cfg, log: log}
}

// Stats summarizes a chunk build pass.
type Stats struct {
	IDNorma            string `json:"id_norma,omitempty"`
	UnitsProcessed     int    `json:"units_processed"`
	UnitsSkipped       int    `json:"units_skipped"`
	ChunksInserted     int    `json:"chunks_inserted"`
	ChunksExisting     int    `json:"chunks_existing"`
	ChunksDroppedNoise int    `json:"chunks_dropped_noise"`
	StaleChunksDeleted int64  `json:"stale_chunks_deleted"`
}

// BuildNorma rebuilds the chunks of every unit of one norm.
func (e *Engine) BuildNorma(ctx context.Context, idNorma string) (*Stats, error) {
	now := time.Now().UTC()
	stats := &Stats{IDNorma: idNorma}

	units, err := e.store.ListUnidadesForNorma(ctx, idNorma)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if err := e.BuildUnidad(ctx, u, now, stats); err != nil {
			return nil, err
		}
	}

	e.log.Info("build_chunks done",
		"id_norma", idNorma,
		"units", stats.UnitsProcessed,
		"inserted", stats.ChunksInserted,
		"existing", stats.ChunksExisting,
		"stale_deleted", stats.StaleChunksDeleted,
	)
	return stats, nil
}

// BuildUnidad rebuilds the chunk set of one unit. Units excluded from
// retrieval keep no chunks at all.
func (e *Engine) BuildUnidad(ctx context.Context, u *storage.Unidad, now time.Time, stats *Stats) error {
	chunkingHash := e.cfg.Hash()

	if u.Quality.SkipRetrieval {
		deleted, err := e.store.DeleteChunksForUnidad(ctx, u.IDUnidad)
		if err != nil {
			return err
		}
		stats.UnitsSkipped++
		stats.StaleChunksDeleted += deleted
		return nil
	}
	stats.UnitsProcessed++

	texts := e.chunkTexts(u)

	kept := make([]string, 0, len(texts))
	for _, text := range texts {
		if IsHeadingOnlyChunk(u.UnidadTipo, text) {
			stats.ChunksDroppedNoise++
			continue
		}
		textoHash := ids.TextHash(text)
		chunk := &storage.ChunkSemantico{
			IDChunk:            ids.Chunk(u.IDUnidad, chunkingHash, len(kept), textoHash),
			IDUnidad:           u.IDUnidad,
			IDNorma:            u.IDNorma,
			ChunkIndex:         len(kept),
			Texto:              text,
			TextoHash:          textoHash,
			ChunkingHash:       chunkingHash,
			ChunkMethod:        string(e.cfg.Method),
			ChunkSize:          e.cfg.Size,
			ChunkOverlap:       e.cfg.Overlap,
			UnidadTipo:         u.UnidadTipo,
			UnidadRef:          u.UnidadRef,
			Titulo:             u.Titulo,
			TerritorioTipo:     u.Metadata.TerritorioTipo,
			TerritorioCodigo:   u.Metadata.TerritorioCodigo,
			TerritorioNombre:   u.Metadata.TerritorioNombre,
			FechaVigenciaDesde: u.FechaVigenciaDesde,
			FechaVigenciaHasta: u.FechaVigenciaHasta,
			URLHTMLConsolidada: u.Metadata.URLHTMLConsolidada,
			URLELI:             u.Metadata.URLELI,
			Tags:               u.Metadata.Tags,
		}
		inserted, err := e.store.UpsertChunkSemantico(ctx, chunk, now)
		if err != nil {
			return err
		}
		if inserted {
			stats.ChunksInserted++
		} else {
			stats.ChunksExisting++
		}
		kept = append(kept, chunk.IDChunk)
	}

	deleted, err := e.store.DeleteStaleChunks(ctx, u.IDUnidad, chunkingHash, kept)
	if err != nil {
		return err
	}
	stats.StaleChunksDeleted += deleted
	return nil
}

// chunkTexts produces the chunk texts for a unit. Articles that fit
// within one chunk bypass the splitter and keep their text whole.
func (e *Engine) chunkTexts(u *storage.Unidad) []string {
	if u.UnidadTipo == storage.TipoArticulo && u.NChars <= e.cfg.Size {
		if u.TextoPlano == "" {
			return nil
		}
		return []string{u.TextoPlano}
	}
	return Split(e.cfg, u.TextoPlano)
}
