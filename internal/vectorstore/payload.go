package vectorstore

import (
	"github.com/qdrant/go-client/qdrant"

	"github.com/normadata/boerag/internal/ids"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/vigencia"
)

// ChunkPayload is the canonical point payload. Vigencia bounds are
// epoch milliseconds: 0 stands for an unknown lower bound and the
// far-future sentinel for an open upper bound, so range filters never
// need null handling.
type ChunkPayload struct {
	ChunkID            string
	IDNorma            string
	IDUnidad           string
	UnidadTipo         string
	UnidadRef          string
	Titulo             string
	TerritorioCodigo   string
	TerritorioTipo     string
	TerritorioNombre   string
	VigenciaDesdeMs    int64
	VigenciaHastaMs    int64
	URLHTMLConsolidada string
	URLELI             string
	Tags               []string
	Text               string
	TextoHash          string
	ChunkingHash       string
}

// PayloadFromChunk snapshots a doc-store chunk into its point payload.
func PayloadFromChunk(c *storage.ChunkSemantico) ChunkPayload {
	return ChunkPayload{
		ChunkID:            c.IDChunk,
		IDNorma:            c.IDNorma,
		IDUnidad:           c.IDUnidad,
		UnidadTipo:         c.UnidadTipo,
		UnidadRef:          c.UnidadRef,
		Titulo:             c.Titulo,
		TerritorioCodigo:   c.TerritorioCodigo,
		TerritorioTipo:     c.TerritorioTipo,
		TerritorioNombre:   c.TerritorioNombre,
		VigenciaDesdeMs:    vigencia.ToVigenciaDesdeMs(c.FechaVigenciaDesde),
		VigenciaHastaMs:    vigencia.ToVigenciaHastaMs(c.FechaVigenciaHasta),
		URLHTMLConsolidada: c.URLHTMLConsolidada,
		URLELI:             c.URLELI,
		Tags:               c.Tags,
		Text:               c.Texto,
		TextoHash:          c.TextoHash,
		ChunkingHash:       c.ChunkingHash,
	}
}

// PointID returns the deterministic point UUID for this payload.
func (p ChunkPayload) PointID() string {
	return ids.PointUUID(p.ChunkID)
}

func (p ChunkPayload) toValueMap() map[string]any {
	tags := make([]any, len(p.Tags))
	for i, t := range p.Tags {
		tags[i] = t
	}
	return map[string]any{
		"chunk_id":             p.ChunkID,
		"id_norma":             p.IDNorma,
		"id_unidad":            p.IDUnidad,
		"unidad_tipo":          p.UnidadTipo,
		"unidad_ref":           p.UnidadRef,
		"titulo":               p.Titulo,
		"territorio_codigo":    p.TerritorioCodigo,
		"territorio_tipo":      p.TerritorioTipo,
		"territorio_nombre":    p.TerritorioNombre,
		"vigencia_desde":       p.VigenciaDesdeMs,
		"vigencia_hasta":       p.VigenciaHastaMs,
		"url_html_consolidada": p.URLHTMLConsolidada,
		"url_eli":              p.URLELI,
		"tags":                 tags,
		"text":                 p.Text,
		"texto_hash":           p.TextoHash,
		"chunking_hash":        p.ChunkingHash,
	}
}

func payloadFromValues(values map[string]*qdrant.Value) ChunkPayload {
	p := ChunkPayload{
		ChunkID:            values["chunk_id"].GetStringValue(),
		IDNorma:            values["id_norma"].GetStringValue(),
		IDUnidad:           values["id_unidad"].GetStringValue(),
		UnidadTipo:         values["unidad_tipo"].GetStringValue(),
		UnidadRef:          values["unidad_ref"].GetStringValue(),
		Titulo:             values["titulo"].GetStringValue(),
		TerritorioCodigo:   values["territorio_codigo"].GetStringValue(),
		TerritorioTipo:     values["territorio_tipo"].GetStringValue(),
		TerritorioNombre:   values["territorio_nombre"].GetStringValue(),
		VigenciaDesdeMs:    values["vigencia_desde"].GetIntegerValue(),
		VigenciaHastaMs:    values["vigencia_hasta"].GetIntegerValue(),
		URLHTMLConsolidada: values["url_html_consolidada"].GetStringValue(),
		URLELI:             values["url_eli"].GetStringValue(),
		Text:               values["text"].GetStringValue(),
		TextoHash:          values["texto_hash"].GetStringValue(),
		ChunkingHash:       values["chunking_hash"].GetStringValue(),
	}
	if list := values["tags"].GetListValue(); list != nil {
		for _, v := range list.Values {
			p.Tags = append(p.Tags, v.GetStringValue())
		}
	}
	return p
}
