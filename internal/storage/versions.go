package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// InsertVersionIfMissing inserts the version, idempotent by id.
// Versions are immutable once created. Returns true on insert.
func (s *Store) InsertVersionIfMissing(ctx context.Context, v *Version) (bool, error) {
	if s.DryRun {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM versions WHERE id_version = ?", v.IDVersion).Scan(&exists)
		if err != nil {
			return false, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		return exists == 0, nil
	}
	n, err := s.exec(ctx, `
		INSERT OR IGNORE INTO versions (
			id_version, id_norma, id_bloque, fecha_vigencia_raw, fecha_vigencia,
			fecha_publicacion_raw, fecha_publicacion, id_norma_modificadora, hash_xml,
			file_path, texto_plano, texto_hash, chunk_method, chunk_size, chunk_overlap,
			is_latest, created_at, last_seen_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.IDVersion, v.IDNorma, v.IDBloque, v.FechaVigenciaRaw, fmtTimePtr(v.FechaVigencia),
		v.FechaPublicacionRaw, fmtTimePtr(v.FechaPublicacion), v.IDNormaModificadora, v.HashXML,
		v.FilePath, v.TextoPlano, v.TextoHash, v.ChunkMethod, v.ChunkSize, v.ChunkOverlap,
		boolInt(v.IsLatest), fmtTime(v.CreatedAt), fmtTime(v.LastSeenAt),
	)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertVersionRagFields persists extracted text and chunking config on
// an existing version row.
func (s *Store) UpsertVersionRagFields(ctx context.Context, idVersion, textoPlano, textoHash, method string, size, overlap int) error {
	_, err := s.exec(ctx, `
		UPDATE versions SET texto_plano = ?, texto_hash = ?, chunk_method = ?, chunk_size = ?, chunk_overlap = ?
		WHERE id_version = ?`,
		textoPlano, textoHash, method, size, overlap, idVersion,
	)
	return err
}

// MarkVersionLatestForBloque flips is_latest atomically within the block.
func (s *Store) MarkVersionLatestForBloque(ctx context.Context, idNorma, idBloque, latestID string) error {
	if s.DryRun {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE versions SET is_latest = 0 WHERE id_norma = ? AND id_bloque = ?", idNorma, idBloque); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE versions SET is_latest = 1 WHERE id_version = ?", latestID); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	return tx.Commit()
}

// TouchVersion updates last_seen_at.
func (s *Store) TouchVersion(ctx context.Context, idVersion string, now time.Time) error {
	_, err := s.exec(ctx, "UPDATE versions SET last_seen_at = ? WHERE id_version = ?", fmtTime(now), idVersion)
	return err
}

// ListVersionsForBloque returns all versions of a block ordered by
// (fecha_vigencia, fecha_publicacion, id_version).
func (s *Store) ListVersionsForBloque(ctx context.Context, idNorma, idBloque string) ([]*Version, error) {
	return s.queryVersions(ctx, `
		SELECT id_version, id_norma, id_bloque, fecha_vigencia_raw, fecha_vigencia,
			fecha_publicacion_raw, fecha_publicacion, id_norma_modificadora, hash_xml,
			file_path, texto_plano, texto_hash, chunk_method, chunk_size, chunk_overlap,
			is_latest, created_at, last_seen_at
		FROM versions WHERE id_norma = ? AND id_bloque = ?
		ORDER BY fecha_vigencia IS NULL, fecha_vigencia, fecha_publicacion IS NULL, fecha_publicacion, id_version`,
		idNorma, idBloque)
}

// ListVersionsForNorma returns all versions of a norm in the same order.
func (s *Store) ListVersionsForNorma(ctx context.Context, idNorma string) ([]*Version, error) {
	return s.queryVersions(ctx, `
		SELECT id_version, id_norma, id_bloque, fecha_vigencia_raw, fecha_vigencia,
			fecha_publicacion_raw, fecha_publicacion, id_norma_modificadora, hash_xml,
			file_path, texto_plano, texto_hash, chunk_method, chunk_size, chunk_overlap,
			is_latest, created_at, last_seen_at
		FROM versions WHERE id_norma = ?
		ORDER BY id_bloque, fecha_vigencia IS NULL, fecha_vigencia, fecha_publicacion IS NULL, fecha_publicacion, id_version`,
		idNorma)
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...any) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Version
	for rows.Next() {
		var v Version
		var vig, pub sql.NullString
		var isLatest int
		var created, seen string
		err := rows.Scan(
			&v.IDVersion, &v.IDNorma, &v.IDBloque, &v.FechaVigenciaRaw, &vig,
			&v.FechaPublicacionRaw, &pub, &v.IDNormaModificadora, &v.HashXML,
			&v.FilePath, &v.TextoPlano, &v.TextoHash, &v.ChunkMethod, &v.ChunkSize, &v.ChunkOverlap,
			&isLatest, &created, &seen,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		v.FechaVigencia = parseTimePtr(vig)
		v.FechaPublicacion = parseTimePtr(pub)
		v.IsLatest = isLatest == 1
		v.CreatedAt = parseTime(created)
		v.LastSeenAt = parseTime(seen)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// CountVersionsForNorma is used by the rag-check diagnostics.
func (s *Store) CountVersionsForNorma(ctx context.Context, idNorma string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions WHERE id_norma = ?", idNorma).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	return n, nil
}
