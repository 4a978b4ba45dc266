package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

const chunkColumns = `
	id_chunk, id_unidad, id_norma, chunk_index, texto, texto_hash, chunking_hash,
	chunk_method, chunk_size, chunk_overlap,
	unidad_tipo, unidad_ref, titulo,
	territorio_tipo, territorio_codigo, territorio_nombre,
	fecha_vigencia_desde, fecha_vigencia_hasta,
	url_html_consolidada, url_eli, tags, created_at, last_seen_at`

// UpsertChunkSemantico writes a semantic chunk by id; created_at is
// insert-only. Returns true when the row was newly inserted.
func (s *Store) UpsertChunkSemantico(ctx context.Context, c *ChunkSemantico, now time.Time) (bool, error) {
	existing, err := s.chunkExists(ctx, c.IDChunk)
	if err != nil {
		return false, err
	}
	_, err = s.exec(ctx, `
		INSERT INTO chunks_semanticos (`+chunkColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id_chunk) DO UPDATE SET
			id_unidad = excluded.id_unidad,
			id_norma = excluded.id_norma,
			chunk_index = excluded.chunk_index,
			texto = excluded.texto,
			texto_hash = excluded.texto_hash,
			chunking_hash = excluded.chunking_hash,
			chunk_method = excluded.chunk_method,
			chunk_size = excluded.chunk_size,
			chunk_overlap = excluded.chunk_overlap,
			unidad_tipo = excluded.unidad_tipo,
			unidad_ref = excluded.unidad_ref,
			titulo = excluded.titulo,
			territorio_tipo = excluded.territorio_tipo,
			territorio_codigo = excluded.territorio_codigo,
			territorio_nombre = excluded.territorio_nombre,
			fecha_vigencia_desde = excluded.fecha_vigencia_desde,
			fecha_vigencia_hasta = excluded.fecha_vigencia_hasta,
			url_html_consolidada = excluded.url_html_consolidada,
			url_eli = excluded.url_eli,
			tags = excluded.tags,
			last_seen_at = excluded.last_seen_at`,
		c.IDChunk, c.IDUnidad, c.IDNorma, c.ChunkIndex, c.Texto, c.TextoHash, c.ChunkingHash,
		c.ChunkMethod, c.ChunkSize, c.ChunkOverlap,
		c.UnidadTipo, c.UnidadRef, c.Titulo,
		c.TerritorioTipo, c.TerritorioCodigo, c.TerritorioNombre,
		fmtTimePtr(c.FechaVigenciaDesde), fmtTimePtr(c.FechaVigenciaHasta),
		c.URLHTMLConsolidada, c.URLELI, marshalStrings(c.Tags), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return false, err
	}
	return !existing, nil
}

func (s *Store) chunkExists(ctx context.Context, idChunk string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks_semanticos WHERE id_chunk = ?", idChunk).Scan(&n)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	return n > 0, nil
}

// DeleteStaleChunks removes chunks of (id_unidad, chunking_hash) whose
// id is not in kept. This is the per-unit GC after a build pass.
func (s *Store) DeleteStaleChunks(ctx context.Context, idUnidad, chunkingHash string, kept []string) (int64, error) {
	if len(kept) == 0 {
		return s.exec(ctx,
			"DELETE FROM chunks_semanticos WHERE id_unidad = ? AND chunking_hash = ?",
			idUnidad, chunkingHash)
	}
	query := fmt.Sprintf(
		"DELETE FROM chunks_semanticos WHERE id_unidad = ? AND chunking_hash = ? AND id_chunk NOT IN (%s)",
		placeholders(len(kept)))
	args := append([]any{idUnidad, chunkingHash}, toAnySlice(kept)...)
	return s.exec(ctx, query, args...)
}

// DeleteChunksForUnidad removes every chunk of a unit regardless of
// chunking hash. Used when the unit is excluded from retrieval.
func (s *Store) DeleteChunksForUnidad(ctx context.Context, idUnidad string) (int64, error) {
	return s.exec(ctx, "DELETE FROM chunks_semanticos WHERE id_unidad = ?", idUnidad)
}

// DeleteChunksForNorma removes every semantic chunk of a norm. Used by
// the builder's reset path before a full rebuild.
func (s *Store) DeleteChunksForNorma(ctx context.Context, idNorma string) (int64, error) {
	return s.exec(ctx, "DELETE FROM chunks_semanticos WHERE id_norma = ?", idNorma)
}

// TouchChunksForUnidad updates last_seen_at on a unit's chunks. Used to
// mark chunks of non-latest units as still reachable.
func (s *Store) TouchChunksForUnidad(ctx context.Context, idUnidad string, now time.Time) error {
	_, err := s.exec(ctx, "UPDATE chunks_semanticos SET last_seen_at = ? WHERE id_unidad = ?", fmtTime(now), idUnidad)
	return err
}

// ListChunksSemanticos streams the chunks in the deterministic indexer
// order (id_norma, id_unidad, chunk_index), optionally scoped to one
// norm and capped by limit (0 = no limit).
func (s *Store) ListChunksSemanticos(ctx context.Context, onlyNorma string, limit int) ([]*ChunkSemantico, error) {
	query := "SELECT " + chunkColumns + " FROM chunks_semanticos"
	var args []any
	if onlyNorma != "" {
		query += " WHERE id_norma = ?"
		args = append(args, onlyNorma)
	}
	query += " ORDER BY id_norma, id_unidad, chunk_index"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ChunkSemantico
	for rows.Next() {
		var c ChunkSemantico
		var desde, hasta sql.NullString
		var tags string
		var created, seen string
		err := rows.Scan(
			&c.IDChunk, &c.IDUnidad, &c.IDNorma, &c.ChunkIndex, &c.Texto, &c.TextoHash, &c.ChunkingHash,
			&c.ChunkMethod, &c.ChunkSize, &c.ChunkOverlap,
			&c.UnidadTipo, &c.UnidadRef, &c.Titulo,
			&c.TerritorioTipo, &c.TerritorioCodigo, &c.TerritorioNombre,
			&desde, &hasta,
			&c.URLHTMLConsolidada, &c.URLELI, &tags, &created, &seen,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		c.FechaVigenciaDesde = parseTimePtr(desde)
		c.FechaVigenciaHasta = parseTimePtr(hasta)
		c.Tags = unmarshalStrings(tags)
		c.CreatedAt = parseTime(created)
		c.LastSeenAt = parseTime(seen)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ChunkIDSet returns every semantic chunk id, the authoritative set the
// indexer's whole-collection cleanup cross-checks against.
func (s *Store) ChunkIDSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id_chunk FROM chunks_semanticos")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// CountChunksForUnidad is used by tests and rag-check.
func (s *Store) CountChunksForUnidad(ctx context.Context, idUnidad string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks_semanticos WHERE id_unidad = ?", idUnidad).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	return n, nil
}

// InsertLegacyChunkIfMissing writes a v1 chunk produced during sync.
func (s *Store) InsertLegacyChunkIfMissing(ctx context.Context, c *ChunkLegacy) (bool, error) {
	n, err := s.exec(ctx, `
		INSERT OR IGNORE INTO chunks (
			id_chunk, id_version, id_norma, id_bloque, chunk_index,
			texto, texto_hash, chunking_hash, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.IDChunk, c.IDVersion, c.IDNorma, c.IDBloque, c.ChunkIndex,
		c.Texto, c.TextoHash, c.ChunkingHash, fmtTime(c.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteLegacyChunksForNorma drops a norm's v1 chunks.
func (s *Store) DeleteLegacyChunksForNorma(ctx context.Context, idNorma string) (int64, error) {
	return s.exec(ctx, "DELETE FROM chunks WHERE id_norma = ?", idNorma)
}
