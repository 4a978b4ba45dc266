package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// UpsertBloque inserts or updates a block row from index or bloque XML
// metadata, preserving created_at on update.
func (s *Store) UpsertBloque(ctx context.Context, b *Bloque, now time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO bloques (
			id, id_norma, id_bloque, tipo, titulo, fecha_actualizacion_raw,
			url, latest_version_id, created_at, last_seen_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			tipo = excluded.tipo,
			titulo = excluded.titulo,
			fecha_actualizacion_raw = excluded.fecha_actualizacion_raw,
			url = excluded.url,
			last_seen_at = excluded.last_seen_at`,
		b.ID, b.IDNorma, b.IDBloque, b.Tipo, b.Titulo, b.FechaActualizacionRaw,
		b.URL, b.LatestVersionID, fmtTime(now), fmtTime(now),
	)
	return err
}

// GetBloque returns the block row or nil.
func (s *Store) GetBloque(ctx context.Context, idNorma, idBloque string) (*Bloque, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, id_norma, id_bloque, tipo, titulo, fecha_actualizacion_raw,
			url, latest_version_id, created_at, last_seen_at
		FROM bloques WHERE id_norma = ? AND id_bloque = ?`, idNorma, idBloque)

	var b Bloque
	var created, seen string
	err := row.Scan(
		&b.ID, &b.IDNorma, &b.IDBloque, &b.Tipo, &b.Titulo, &b.FechaActualizacionRaw,
		&b.URL, &b.LatestVersionID, &created, &seen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	b.CreatedAt = parseTime(created)
	b.LastSeenAt = parseTime(seen)
	return &b, nil
}

// SetBloqueLatestVersion records the latest version id on the block.
func (s *Store) SetBloqueLatestVersion(ctx context.Context, id, latestVersionID string) error {
	_, err := s.exec(ctx, "UPDATE bloques SET latest_version_id = ? WHERE id = ?", latestVersionID, id)
	return err
}

// TouchBloque updates last_seen_at.
func (s *Store) TouchBloque(ctx context.Context, id string, now time.Time) error {
	_, err := s.exec(ctx, "UPDATE bloques SET last_seen_at = ? WHERE id = ?", fmtTime(now), id)
	return err
}

// CountBloquesForNorma is used by the rag-check diagnostics.
func (s *Store) CountBloquesForNorma(ctx context.Context, idNorma string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bloques WHERE id_norma = ?", idNorma).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	return n, nil
}
