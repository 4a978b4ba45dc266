package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// UpsertOutcome reports what an idempotent upsert did.
type UpsertOutcome string

const (
	OutcomeInserted UpsertOutcome = "inserted"
	OutcomeUpdated  UpsertOutcome = "updated"
	OutcomeTouched  UpsertOutcome = "touched"
)

// UpsertNormaFromDiscover inserts the norm if unseen. For an existing
// norm the structured fields are compared: if any changed they are
// rewritten, otherwise only last_seen_at is touched.
func (s *Store) UpsertNormaFromDiscover(ctx context.Context, n *Norma, now time.Time) (UpsertOutcome, error) {
	existing, err := s.GetNorma(ctx, n.IDNorma)
	if err != nil {
		return "", err
	}

	if existing == nil {
		_, err := s.exec(ctx, `
			INSERT INTO normas (
				id_norma, titulo, rango_codigo, rango_texto, ambito_codigo, ambito_texto,
				departamento_codigo, departamento_texto, territorio_tipo, territorio_codigo,
				territorio_nombre, fecha_actualizacion, fecha_publicacion, fecha_disposicion,
				url_html_consolidada, raw_json, first_seen_at, last_seen_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			n.IDNorma, n.Titulo, n.RangoCodigo, n.RangoTexto, n.AmbitoCodigo, n.AmbitoTexto,
			n.DepartamentoCodigo, n.DepartamentoTexto, n.TerritorioTipo, n.TerritorioCodigo,
			n.TerritorioNombre, fmtTimePtr(n.FechaActualizacion), fmtTimePtr(n.FechaPublicacion),
			fmtTimePtr(n.FechaDisposicion), n.URLHTMLConsolidada, n.RawJSON,
			fmtTime(now), fmtTime(now),
		)
		if err != nil {
			return "", err
		}
		return OutcomeInserted, nil
	}

	if normaFieldsEqual(existing, n) {
		if _, err := s.exec(ctx, "UPDATE normas SET last_seen_at = ? WHERE id_norma = ?", fmtTime(now), n.IDNorma); err != nil {
			return "", err
		}
		return OutcomeTouched, nil
	}

	_, err = s.exec(ctx, `
		UPDATE normas SET
			titulo = ?, rango_codigo = ?, rango_texto = ?, ambito_codigo = ?, ambito_texto = ?,
			departamento_codigo = ?, departamento_texto = ?, territorio_tipo = ?,
			territorio_codigo = ?, territorio_nombre = ?, fecha_actualizacion = ?,
			fecha_publicacion = ?, fecha_disposicion = ?, url_html_consolidada = ?,
			raw_json = ?, last_seen_at = ?
		WHERE id_norma = ?`,
		n.Titulo, n.RangoCodigo, n.RangoTexto, n.AmbitoCodigo, n.AmbitoTexto,
		n.DepartamentoCodigo, n.DepartamentoTexto, n.TerritorioTipo,
		n.TerritorioCodigo, n.TerritorioNombre, fmtTimePtr(n.FechaActualizacion),
		fmtTimePtr(n.FechaPublicacion), fmtTimePtr(n.FechaDisposicion), n.URLHTMLConsolidada,
		n.RawJSON, fmtTime(now), n.IDNorma,
	)
	if err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

func normaFieldsEqual(a, b *Norma) bool {
	return a.Titulo == b.Titulo &&
		a.RangoCodigo == b.RangoCodigo && a.RangoTexto == b.RangoTexto &&
		a.AmbitoCodigo == b.AmbitoCodigo && a.AmbitoTexto == b.AmbitoTexto &&
		a.DepartamentoCodigo == b.DepartamentoCodigo && a.DepartamentoTexto == b.DepartamentoTexto &&
		a.TerritorioTipo == b.TerritorioTipo && a.TerritorioCodigo == b.TerritorioCodigo &&
		a.TerritorioNombre == b.TerritorioNombre &&
		timePtrEqual(a.FechaActualizacion, b.FechaActualizacion) &&
		timePtrEqual(a.FechaPublicacion, b.FechaPublicacion) &&
		timePtrEqual(a.FechaDisposicion, b.FechaDisposicion) &&
		a.URLHTMLConsolidada == b.URLHTMLConsolidada &&
		a.RawJSON == b.RawJSON
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// GetNorma returns the norm or nil when absent.
func (s *Store) GetNorma(ctx context.Context, idNorma string) (*Norma, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id_norma, titulo, rango_codigo, rango_texto, ambito_codigo, ambito_texto,
			departamento_codigo, departamento_texto, territorio_tipo, territorio_codigo,
			territorio_nombre, fecha_actualizacion, fecha_publicacion, fecha_disposicion,
			url_html_consolidada, raw_json, first_seen_at, last_seen_at
		FROM normas WHERE id_norma = ?`, idNorma)

	var n Norma
	var act, pub, disp sql.NullString
	var first, last string
	err := row.Scan(
		&n.IDNorma, &n.Titulo, &n.RangoCodigo, &n.RangoTexto, &n.AmbitoCodigo, &n.AmbitoTexto,
		&n.DepartamentoCodigo, &n.DepartamentoTexto, &n.TerritorioTipo, &n.TerritorioCodigo,
		&n.TerritorioNombre, &act, &pub, &disp,
		&n.URLHTMLConsolidada, &n.RawJSON, &first, &last,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	n.FechaActualizacion = parseTimePtr(act)
	n.FechaPublicacion = parseTimePtr(pub)
	n.FechaDisposicion = parseTimePtr(disp)
	n.FirstSeenAt = parseTime(first)
	n.LastSeenAt = parseTime(last)
	return &n, nil
}

// ListNormaIDs returns all norm ids ordered lexicographically.
func (s *Store) ListNormaIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id_norma FROM normas ORDER BY id_norma")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
