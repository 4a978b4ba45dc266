package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// InsertIndiceIfMissing inserts the index snapshot, idempotent by id.
// Returns true when a new row was created.
func (s *Store) InsertIndiceIfMissing(ctx context.Context, ind *Indice) (bool, error) {
	if s.DryRun {
		existing, err := s.GetIndice(ctx, ind.IDIndice)
		if err != nil {
			return false, err
		}
		return existing == nil, nil
	}
	n, err := s.exec(ctx, `
		INSERT OR IGNORE INTO indices (
			id_indice, id_norma, fecha_actualizacion_raw, fecha_actualizacion,
			hash_xml, hash_pretty, file_path, is_latest, created_at, last_seen_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ind.IDIndice, ind.IDNorma, ind.FechaActualizacionRaw, fmtTimePtr(ind.FechaActualizacion),
		ind.HashXML, ind.HashPretty, ind.FilePath, boolInt(ind.IsLatest),
		fmtTime(ind.CreatedAt), fmtTime(ind.LastSeenAt),
	)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkIndiceLatestForNorma flips is_latest atomically within the norm.
func (s *Store) MarkIndiceLatestForNorma(ctx context.Context, idNorma, latestID string) error {
	if s.DryRun {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE indices SET is_latest = 0 WHERE id_norma = ?", idNorma); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE indices SET is_latest = 1 WHERE id_indice = ?", latestID); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	return tx.Commit()
}

// TouchIndice updates last_seen_at.
func (s *Store) TouchIndice(ctx context.Context, idIndice string, now time.Time) error {
	_, err := s.exec(ctx, "UPDATE indices SET last_seen_at = ? WHERE id_indice = ?", fmtTime(now), idIndice)
	return err
}

// GetIndice returns the index snapshot or nil.
func (s *Store) GetIndice(ctx context.Context, idIndice string) (*Indice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id_indice, id_norma, fecha_actualizacion_raw, fecha_actualizacion,
			hash_xml, hash_pretty, file_path, is_latest, created_at, last_seen_at
		FROM indices WHERE id_indice = ?`, idIndice)
	return scanIndice(row)
}

// GetLatestIndiceForNorma returns the current latest snapshot or nil.
func (s *Store) GetLatestIndiceForNorma(ctx context.Context, idNorma string) (*Indice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id_indice, id_norma, fecha_actualizacion_raw, fecha_actualizacion,
			hash_xml, hash_pretty, file_path, is_latest, created_at, last_seen_at
		FROM indices WHERE id_norma = ? AND is_latest = 1`, idNorma)
	return scanIndice(row)
}

func scanIndice(row *sql.Row) (*Indice, error) {
	var ind Indice
	var act sql.NullString
	var isLatest int
	var created, seen string
	err := row.Scan(
		&ind.IDIndice, &ind.IDNorma, &ind.FechaActualizacionRaw, &act,
		&ind.HashXML, &ind.HashPretty, &ind.FilePath, &isLatest, &created, &seen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	ind.FechaActualizacion = parseTimePtr(act)
	ind.IsLatest = isLatest == 1
	ind.CreatedAt = parseTime(created)
	ind.LastSeenAt = parseTime(seen)
	return &ind, nil
}

// CountIndicesForNorma is used by the rag-check diagnostics.
func (s *Store) CountIndicesForNorma(ctx context.Context, idNorma string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indices WHERE id_norma = ?", idNorma).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	return n, nil
}
