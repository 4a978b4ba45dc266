package boe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/storage"
)

// DiscoverItem is one normalized discover result. Missing wire fields
// stay empty/nil.
type DiscoverItem struct {
	Identificador      string
	Titulo             string
	RangoCodigo        string
	RangoTexto         string
	DepartamentoCodigo string
	DepartamentoTexto  string
	AmbitoCodigo       string
	AmbitoTexto        string
	FechaActualizacion *time.Time
	FechaPublicacion   *time.Time
	FechaDisposicion   *time.Time
	URLHTMLConsolidada string
	RawJSON            string
}

// DiscoverPage is one page of discover results.
type DiscoverPage struct {
	StatusCode string
	StatusText string
	Items      []DiscoverItem
}

// ParseDiscover decodes a discover response body. The loose JSON is
// parsed once here and lifted into typed items; a body status code
// other than "200" is an integrity failure.
func ParseDiscover(body []byte) (*DiscoverPage, error) {
	var loose struct {
		Status struct {
			Code any `json:"code"`
			Text any `json:"text"`
		} `json:"status"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &loose); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParseJSON, err)
	}

	page := &DiscoverPage{
		StatusCode: looseString(loose.Status.Code),
		StatusText: looseString(loose.Status.Text),
	}
	if page.StatusCode != "200" {
		return nil, errors.Newf(errors.ErrCodeSourceStatus,
			"discover returned status %s %s", page.StatusCode, page.StatusText)
	}

	for _, raw := range loose.Data {
		item, err := parseDiscoverItem(raw)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func parseDiscoverItem(raw json.RawMessage) (DiscoverItem, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return DiscoverItem{}, errors.Wrap(errors.ErrCodeParseJSON, err)
	}

	item := DiscoverItem{
		Identificador:      looseString(m["identificador"]),
		Titulo:             looseString(m["titulo"]),
		URLHTMLConsolidada: looseString(m["url_html_consolidada"]),
		RawJSON:            string(raw),
	}
	item.RangoCodigo, item.RangoTexto = loosePair(m["rango"])
	item.DepartamentoCodigo, item.DepartamentoTexto = loosePair(m["departamento"])
	item.AmbitoCodigo, item.AmbitoTexto = loosePair(m["ambito"])

	for _, f := range []struct {
		key string
		dst **time.Time
	}{
		{"fecha_actualizacion", &item.FechaActualizacion},
		{"fecha_publicacion", &item.FechaPublicacion},
		{"fecha_disposicion", &item.FechaDisposicion},
	} {
		t, err := ParseAnyRaw(looseString(m[f.key]))
		if err != nil {
			return DiscoverItem{}, err
		}
		*f.dst = t
	}
	return item, nil
}

// ToNorma lifts a discover item into a Norma row. Territorio
// derivation can be disabled by configuration, in which case the
// territorio fields stay empty.
func (item DiscoverItem) ToNorma(normalizeTerritory bool) *storage.Norma {
	n := &storage.Norma{
		IDNorma:            item.Identificador,
		Titulo:             item.Titulo,
		RangoCodigo:        item.RangoCodigo,
		RangoTexto:         item.RangoTexto,
		AmbitoCodigo:       item.AmbitoCodigo,
		AmbitoTexto:        item.AmbitoTexto,
		DepartamentoCodigo: item.DepartamentoCodigo,
		DepartamentoTexto:  item.DepartamentoTexto,
		FechaActualizacion: item.FechaActualizacion,
		FechaPublicacion:   item.FechaPublicacion,
		FechaDisposicion:   item.FechaDisposicion,
		URLHTMLConsolidada: item.URLHTMLConsolidada,
		RawJSON:            item.RawJSON,
	}
	if normalizeTerritory {
		terr := ResolveTerritorio(item.AmbitoCodigo, item.AmbitoTexto, item.DepartamentoCodigo, item.DepartamentoTexto)
		n.TerritorioTipo = terr.Tipo
		n.TerritorioCodigo = terr.Codigo
		n.TerritorioNombre = terr.Nombre
	}
	return n
}

// looseString renders a loose JSON scalar as a string. Numbers appear
// where the API sometimes emits codes unquoted.
func looseString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		return ""
	}
}

// loosePair extracts a {codigo, texto} object.
func loosePair(v any) (codigo, texto string) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", ""
	}
	return looseString(m["codigo"]), looseString(m["texto"])
}
