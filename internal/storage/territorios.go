package storage

import (
	"context"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// UpsertTerritorio writes a catalog row keyed by codigo.
func (s *Store) UpsertTerritorio(ctx context.Context, t *Territorio, now time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO territorios (codigo, nombre, tipo, departamento_codigo, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (codigo) DO UPDATE SET
			nombre = excluded.nombre,
			tipo = excluded.tipo,
			departamento_codigo = excluded.departamento_codigo,
			updated_at = excluded.updated_at`,
		t.Codigo, t.Nombre, t.Tipo, t.DepartamentoCodigo, fmtTime(now), fmtTime(now),
	)
	return err
}

// EnsureEstado upserts the ES:STATE row, which must always exist.
func (s *Store) EnsureEstado(ctx context.Context, now time.Time) error {
	return s.UpsertTerritorio(ctx, &Territorio{
		Codigo: CodigoEstado,
		Nombre: "Estado",
		Tipo:   TerritorioEstatal,
	}, now)
}

// ListTerritorios returns the catalog ordered by codigo, optionally
// filtered by tipo.
func (s *Store) ListTerritorios(ctx context.Context, tipo string) ([]*Territorio, error) {
	query := "SELECT codigo, nombre, tipo, departamento_codigo, created_at, updated_at FROM territorios"
	var args []any
	if tipo != "" {
		query += " WHERE tipo = ?"
		args = append(args, tipo)
	}
	query += " ORDER BY codigo"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Territorio
	for rows.Next() {
		var t Territorio
		var created, updated string
		if err := rows.Scan(&t.Codigo, &t.Nombre, &t.Tipo, &t.DepartamentoCodigo, &created, &updated); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		t.CreatedAt = parseTime(created)
		t.UpdatedAt = parseTime(updated)
		out = append(out, &t)
	}
	return out, rows.Err()
}
