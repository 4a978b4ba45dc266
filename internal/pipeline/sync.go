// Package pipeline runs the per-norm stage flow (sync, build_units,
// build_chunks, index) over the queue broker, and seeds it from the
// discover endpoint or from incomplete sync state.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/chunker"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/ids"
	"github.com/normadata/boerag/internal/objectstore"
	"github.com/normadata/boerag/internal/storage"
)

// SyncStats counts what one sync pass did.
type SyncStats struct {
	IDNorma              string `json:"id_norma"`
	BlocksSeen           int    `json:"blocks_seen"`
	BlocksDirty          int    `json:"blocks_dirty"`
	BlocksNotFound       int    `json:"blocks_not_found"`
	VersionsInserted     int    `json:"versions_inserted"`
	VersionsTouched      int    `json:"versions_touched"`
	LegacyChunksInserted int    `json:"legacy_chunks_inserted"`
}

// Syncer fetches a norm's index and dirty blocks from the source API
// and persists snapshots, blocks and versions.
type Syncer struct {
	store   *storage.Store
	objects *objectstore.Store
	client  SourceClient
	cfg     config.StorageConfig
	chunk   chunker.Config
	log     *slog.Logger
}

// SourceClient is the slice of the source API the syncer uses.
// *boe.Client implements it.
type SourceClient interface {
	FetchIndexXML(ctx context.Context, idNorma string) ([]byte, error)
	FetchBloqueXML(ctx context.Context, idNorma, idBloque string) ([]byte, error)
}

// NewSyncer builds a syncer.
func NewSyncer(store *storage.Store, objects *objectstore.Store, client SourceClient, cfg config.StorageConfig, chunk chunker.Config, log *slog.Logger) *Syncer {
	return &Syncer{store: store, objects: objects, client: client, cfg: cfg, chunk: chunk, log: log}
}

// SyncNorma runs the sync stage for one norm.
func (s *Syncer) SyncNorma(ctx context.Context, idNorma string) (*SyncStats, error) {
	now := time.Now().UTC()
	stats := &SyncStats{IDNorma: idNorma}

	raw, err := s.client.FetchIndexXML(ctx, idNorma)
	if err != nil {
		return stats, err
	}
	doc, err := boe.ParseIndexXML(raw)
	if err != nil {
		return stats, err
	}

	res, err := s.objects.WriteIndice(idNorma, doc.FechaActualizacionRaw, raw)
	if err != nil {
		return stats, err
	}
	fecha, err := boe.ParseAnyRaw(doc.FechaActualizacionRaw)
	if err != nil {
		return stats, err
	}
	idIndice := ids.Indice(idNorma, doc.FechaActualizacionRaw, res.RawHash)
	inserted, err := s.store.InsertIndiceIfMissing(ctx, &storage.Indice{
		IDIndice:              idIndice,
		IDNorma:               idNorma,
		FechaActualizacionRaw: doc.FechaActualizacionRaw,
		FechaActualizacion:    fecha,
		HashXML:               res.RawHash,
		HashPretty:            res.PrettyHash,
		FilePath:              res.RelativePath,
		CreatedAt:             now,
		LastSeenAt:            now,
	})
	if err != nil {
		return stats, err
	}
	if !inserted {
		if err := s.store.TouchIndice(ctx, idIndice, now); err != nil {
			return stats, err
		}
	}
	if err := s.store.MarkIndiceLatestForNorma(ctx, idNorma, idIndice); err != nil {
		return stats, err
	}

	for _, block := range doc.Blocks {
		stats.BlocksSeen++
		if err := s.syncBlock(ctx, idNorma, block, now, stats); err != nil {
			return stats, err
		}
	}
	s.log.Info("sync finished",
		"id_norma", idNorma,
		"blocks", stats.BlocksSeen,
		"dirty", stats.BlocksDirty,
		"versions_inserted", stats.VersionsInserted,
	)
	return stats, nil
}

func (s *Syncer) syncBlock(ctx context.Context, idNorma string, ref boe.IndexBlockRef, now time.Time, stats *SyncStats) error {
	id := ids.Bloque(idNorma, ref.IDBloque)
	existing, err := s.store.GetBloque(ctx, idNorma, ref.IDBloque)
	if err != nil {
		return err
	}
	// A block with no timestamp on either side cannot prove freshness,
	// so it counts as dirty.
	dirty := existing == nil ||
		ref.FechaActualizacionRaw == "" ||
		existing.FechaActualizacionRaw == "" ||
		existing.FechaActualizacionRaw != ref.FechaActualizacionRaw

	if err := s.store.UpsertBloque(ctx, &storage.Bloque{
		ID:                    id,
		IDNorma:               idNorma,
		IDBloque:              ref.IDBloque,
		Tipo:                  ref.Tipo,
		Titulo:                ref.Titulo,
		FechaActualizacionRaw: ref.FechaActualizacionRaw,
		URL:                   ref.URL,
	}, now); err != nil {
		return err
	}
	if !dirty {
		return s.store.TouchBloque(ctx, id, now)
	}
	stats.BlocksDirty++

	raw, err := s.client.FetchBloqueXML(ctx, idNorma, ref.IDBloque)
	if err != nil {
		if boe.IsNotFound(err) {
			stats.BlocksNotFound++
			s.log.Warn("bloque not found, skipping", "id_norma", idNorma, "id_bloque", ref.IDBloque)
			return nil
		}
		return err
	}
	if s.cfg.StoreRawSnapshots {
		if _, err := s.objects.WriteRawSnapshot(idNorma, ref.IDBloque, now, raw); err != nil {
			return err
		}
	}

	doc, err := boe.ParseBloqueXML(raw)
	if err != nil {
		return err
	}
	if doc.Tipo != "" || doc.Titulo != "" {
		if err := s.store.UpsertBloque(ctx, &storage.Bloque{
			ID:                    id,
			IDNorma:               idNorma,
			IDBloque:              ref.IDBloque,
			Tipo:                  firstNonEmpty(doc.Tipo, ref.Tipo),
			Titulo:                firstNonEmpty(doc.Titulo, ref.Titulo),
			FechaActualizacionRaw: ref.FechaActualizacionRaw,
			URL:                   ref.URL,
		}, now); err != nil {
			return err
		}
	}

	var latestID, latestKey string
	for _, v := range doc.Versions {
		idVersion, key, err := s.syncVersion(ctx, idNorma, ref.IDBloque, v, now, stats)
		if err != nil {
			return err
		}
		if key >= latestKey {
			latestID, latestKey = idVersion, key
		}
	}
	if latestID != "" {
		if err := s.store.MarkVersionLatestForBloque(ctx, idNorma, ref.IDBloque, latestID); err != nil {
			return err
		}
		if err := s.store.SetBloqueLatestVersion(ctx, id, latestID); err != nil {
			return err
		}
	}
	return nil
}

// syncVersion persists one block version and, on first sight, its
// extracted text and legacy v1 chunks. Returns the version id and the
// lexicographic key used to pick the block's latest version.
func (s *Syncer) syncVersion(ctx context.Context, idNorma, idBloque string, v boe.BloqueVersion, now time.Time, stats *SyncStats) (string, string, error) {
	res, err := s.objects.WriteVersion(idNorma, idBloque, v.FechaVigenciaRaw, v.FechaPublicacionRaw, []byte(v.RawXML))
	if err != nil {
		return "", "", err
	}
	idVersion := ids.Version(idNorma, idBloque, v.FechaVigenciaRaw, v.IDNormaModificadora, res.RawHash)

	vigencia, err := boe.ParseAnyRaw(v.FechaVigenciaRaw)
	if err != nil {
		return "", "", err
	}
	publicacion, err := boe.ParseAnyRaw(v.FechaPublicacionRaw)
	if err != nil {
		return "", "", err
	}

	text, err := boe.ExtractText(s.cfg.Extractor, v.InnerXML)
	if err != nil {
		return "", "", err
	}
	textoHash := ids.TextHash(text)

	inserted, err := s.store.InsertVersionIfMissing(ctx, &storage.Version{
		IDVersion:           idVersion,
		IDNorma:             idNorma,
		IDBloque:            idBloque,
		FechaVigenciaRaw:    v.FechaVigenciaRaw,
		FechaVigencia:       vigencia,
		FechaPublicacionRaw: v.FechaPublicacionRaw,
		FechaPublicacion:    publicacion,
		IDNormaModificadora: v.IDNormaModificadora,
		HashXML:             res.RawHash,
		FilePath:            res.RelativePath,
		TextoPlano:          text,
		TextoHash:           textoHash,
		ChunkMethod:         string(s.chunk.Method),
		ChunkSize:           s.chunk.Size,
		ChunkOverlap:        s.chunk.Overlap,
		CreatedAt:           now,
		LastSeenAt:          now,
	})
	if err != nil {
		return "", "", err
	}
	if !inserted {
		stats.VersionsTouched++
		if err := s.store.TouchVersion(ctx, idVersion, now); err != nil {
			return "", "", err
		}
		return idVersion, versionKey(v), nil
	}
	stats.VersionsInserted++

	chunkingHash := s.chunk.Hash()
	for i, texto := range chunker.Split(s.chunk, text) {
		added, err := s.store.InsertLegacyChunkIfMissing(ctx, &storage.ChunkLegacy{
			IDChunk:      ids.Chunk(idVersion, chunkingHash, i, ids.TextHash(texto)),
			IDVersion:    idVersion,
			IDNorma:      idNorma,
			IDBloque:     idBloque,
			ChunkIndex:   i,
			Texto:        texto,
			TextoHash:    ids.TextHash(texto),
			ChunkingHash: chunkingHash,
			CreatedAt:    now,
		})
		if err != nil {
			return "", "", err
		}
		if added {
			stats.LegacyChunksInserted++
		}
	}
	return idVersion, versionKey(v), nil
}

// versionKey orders versions of one block. Raw date tokens are
// fixed-width, so string comparison is temporal comparison.
func versionKey(v boe.BloqueVersion) string {
	return v.FechaVigenciaRaw + "\x1f" + v.FechaPublicacionRaw + "\x1f" + v.IDNormaModificadora
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
