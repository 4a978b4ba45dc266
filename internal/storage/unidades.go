package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

const unidadColumns = `
	id_unidad, id_norma, unidad_tipo, unidad_ref, titulo, orden,
	fecha_vigencia_desde, fecha_vigencia_hasta, fecha_publicacion_mod,
	id_norma_modificadora, texto_plano, texto_hash, n_chars,
	source_method, bloques_origen, indice_hash, version_hashes,
	territorio_tipo, territorio_codigo, territorio_nombre,
	rango, ambito, departamento, url_html_consolidada, url_eli, tags,
	is_heading_only, skip_retrieval, quality_reason,
	lineage_key, is_latest, created_at, last_seen_at`

// UpsertUnidad writes all mutable fields of a unit. created_at and
// fecha_vigencia_hasta are insert-only: hasta is derived later by the
// vigencia engine and must never be clobbered by a rebuild.
func (s *Store) UpsertUnidad(ctx context.Context, u *Unidad, now time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO unidades (`+unidadColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id_unidad) DO UPDATE SET
			id_norma = excluded.id_norma,
			unidad_tipo = excluded.unidad_tipo,
			unidad_ref = excluded.unidad_ref,
			titulo = excluded.titulo,
			orden = excluded.orden,
			fecha_vigencia_desde = excluded.fecha_vigencia_desde,
			fecha_publicacion_mod = excluded.fecha_publicacion_mod,
			id_norma_modificadora = excluded.id_norma_modificadora,
			texto_plano = excluded.texto_plano,
			texto_hash = excluded.texto_hash,
			n_chars = excluded.n_chars,
			source_method = excluded.source_method,
			bloques_origen = excluded.bloques_origen,
			indice_hash = excluded.indice_hash,
			version_hashes = excluded.version_hashes,
			territorio_tipo = excluded.territorio_tipo,
			territorio_codigo = excluded.territorio_codigo,
			territorio_nombre = excluded.territorio_nombre,
			rango = excluded.rango,
			ambito = excluded.ambito,
			departamento = excluded.departamento,
			url_html_consolidada = excluded.url_html_consolidada,
			url_eli = excluded.url_eli,
			tags = excluded.tags,
			is_heading_only = excluded.is_heading_only,
			skip_retrieval = excluded.skip_retrieval,
			quality_reason = excluded.quality_reason,
			lineage_key = excluded.lineage_key,
			last_seen_at = excluded.last_seen_at`,
		u.IDUnidad, u.IDNorma, u.UnidadTipo, u.UnidadRef, u.Titulo, u.Orden,
		fmtTimePtr(u.FechaVigenciaDesde), fmtTimePtr(u.FechaVigenciaHasta), fmtTimePtr(u.FechaPublicacionMod),
		u.IDNormaModificadora, u.TextoPlano, u.TextoHash, u.NChars,
		u.Source.Method, marshalStrings(u.Source.BloquesOrigen), u.Source.IndiceHash, marshalStrings(u.Source.VersionHashes),
		u.Metadata.TerritorioTipo, u.Metadata.TerritorioCodigo, u.Metadata.TerritorioNombre,
		u.Metadata.Rango, u.Metadata.Ambito, u.Metadata.Departamento, u.Metadata.URLHTMLConsolidada, u.Metadata.URLELI, marshalStrings(u.Metadata.Tags),
		boolInt(u.Quality.IsHeadingOnly), boolInt(u.Quality.SkipRetrieval), u.Quality.Reason,
		u.LineageKey, boolInt(u.IsLatest), fmtTime(now), fmtTime(now),
	)
	return err
}

// ClearUnidadLatestForNorma resets is_latest for all units of a norm.
func (s *Store) ClearUnidadLatestForNorma(ctx context.Context, idNorma string) error {
	_, err := s.exec(ctx, "UPDATE unidades SET is_latest = 0 WHERE id_norma = ?", idNorma)
	return err
}

// SetUnidadLatest flags the winning unit ids.
func (s *Store) SetUnidadLatest(ctx context.Context, idsUnidad []string) error {
	if len(idsUnidad) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE unidades SET is_latest = 1 WHERE id_unidad IN (%s)", placeholders(len(idsUnidad)))
	_, err := s.exec(ctx, query, toAnySlice(idsUnidad)...)
	return err
}

// DeleteUnidadesNotIn removes units of a norm whose id is not in keep.
func (s *Store) DeleteUnidadesNotIn(ctx context.Context, idNorma string, keep []string) (int64, error) {
	if len(keep) == 0 {
		return s.exec(ctx, "DELETE FROM unidades WHERE id_norma = ?", idNorma)
	}
	query := fmt.Sprintf("DELETE FROM unidades WHERE id_norma = ? AND id_unidad NOT IN (%s)", placeholders(len(keep)))
	args := append([]any{idNorma}, toAnySlice(keep)...)
	return s.exec(ctx, query, args...)
}

// DistinctLineageKeys returns the lineage keys present for a norm.
func (s *Store) DistinctLineageKeys(ctx context.Context, idNorma string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT lineage_key FROM unidades WHERE id_norma = ? ORDER BY lineage_key", idNorma)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateUnidadVigenciaHasta bulk-updates derived upper bounds. Only
// rows whose stored value differs are written.
func (s *Store) UpdateUnidadVigenciaHasta(ctx context.Context, updates map[string]*time.Time) (int64, error) {
	var changed int64
	for idUnidad, hasta := range updates {
		// SQLite's IS comparison is NULL-aware, so open intervals are
		// handled by the same predicate.
		n, err := s.exec(ctx, `
			UPDATE unidades SET fecha_vigencia_hasta = ?
			WHERE id_unidad = ? AND fecha_vigencia_hasta IS NOT ?`,
			fmtTimePtr(hasta), idUnidad, fmtTimePtr(hasta),
		)
		if err != nil {
			return changed, err
		}
		changed += n
	}
	return changed, nil
}

// GetUnidad returns the unit or nil.
func (s *Store) GetUnidad(ctx context.Context, idUnidad string) (*Unidad, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+unidadColumns+" FROM unidades WHERE id_unidad = ?", idUnidad)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()
	units, err := scanUnidades(rows)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, nil
	}
	return units[0], nil
}

// ListUnidadesForNorma returns all units of a norm ordered by lineage
// then vigencia.
func (s *Store) ListUnidadesForNorma(ctx context.Context, idNorma string) ([]*Unidad, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unidadColumns+` FROM unidades WHERE id_norma = ?
		ORDER BY lineage_key, fecha_vigencia_desde IS NULL, fecha_vigencia_desde, id_unidad`, idNorma)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()
	return scanUnidades(rows)
}

// ListUnidadesByLineage returns the units of one lineage sorted by
// (vigencia_desde, id) with nulls last, the order the vigencia engine
// consumes.
func (s *Store) ListUnidadesByLineage(ctx context.Context, lineageKey string) ([]*Unidad, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unidadColumns+` FROM unidades WHERE lineage_key = ?
		ORDER BY fecha_vigencia_desde IS NULL, fecha_vigencia_desde, id_unidad`, lineageKey)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()
	return scanUnidades(rows)
}

func scanUnidades(rows *sql.Rows) ([]*Unidad, error) {
	var out []*Unidad
	for rows.Next() {
		var u Unidad
		var desde, hasta, pubMod sql.NullString
		var bloquesOrigen, versionHashes, tags string
		var headingOnly, skip, isLatest int
		var created, seen string
		err := rows.Scan(
			&u.IDUnidad, &u.IDNorma, &u.UnidadTipo, &u.UnidadRef, &u.Titulo, &u.Orden,
			&desde, &hasta, &pubMod,
			&u.IDNormaModificadora, &u.TextoPlano, &u.TextoHash, &u.NChars,
			&u.Source.Method, &bloquesOrigen, &u.Source.IndiceHash, &versionHashes,
			&u.Metadata.TerritorioTipo, &u.Metadata.TerritorioCodigo, &u.Metadata.TerritorioNombre,
			&u.Metadata.Rango, &u.Metadata.Ambito, &u.Metadata.Departamento,
			&u.Metadata.URLHTMLConsolidada, &u.Metadata.URLELI, &tags,
			&headingOnly, &skip, &u.Quality.Reason,
			&u.LineageKey, &isLatest, &created, &seen,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		u.FechaVigenciaDesde = parseTimePtr(desde)
		u.FechaVigenciaHasta = parseTimePtr(hasta)
		u.FechaPublicacionMod = parseTimePtr(pubMod)
		u.Source.BloquesOrigen = unmarshalStrings(bloquesOrigen)
		u.Source.VersionHashes = unmarshalStrings(versionHashes)
		u.Metadata.Tags = unmarshalStrings(tags)
		u.Quality.IsHeadingOnly = headingOnly == 1
		u.Quality.SkipRetrieval = skip == 1
		u.IsLatest = isLatest == 1
		u.CreatedAt = parseTime(created)
		u.LastSeenAt = parseTime(seen)
		out = append(out, &u)
	}
	return out, rows.Err()
}
