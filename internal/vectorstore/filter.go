package vectorstore

import "github.com/qdrant/go-client/qdrant"

// SearchFilter narrows retrieval to vigent units inside a territorial
// scope. Every field is optional; zero values add no condition.
type SearchFilter struct {
	// TerritorioCodigos restricts to these territory codes.
	TerritorioCodigos []string
	// AsOfMs keeps points with vigencia_desde <= asOf < vigencia_hasta.
	AsOfMs int64
	// UnidadTipos restricts to these unit types.
	UnidadTipos []string
}

// Build converts the filter into qdrant conditions.
func (f SearchFilter) Build() *qdrant.Filter {
	var must []*qdrant.Condition
	if len(f.TerritorioCodigos) > 0 {
		must = append(must, qdrant.NewMatchKeywords("territorio_codigo", f.TerritorioCodigos...))
	}
	if f.AsOfMs > 0 {
		asOf := float64(f.AsOfMs)
		must = append(must,
			qdrant.NewRange("vigencia_desde", &qdrant.Range{Lte: qdrant.PtrOf(asOf)}),
			qdrant.NewRange("vigencia_hasta", &qdrant.Range{Gt: qdrant.PtrOf(asOf)}),
		)
	}
	if len(f.UnidadTipos) > 0 {
		must = append(must, qdrant.NewMatchKeywords("unidad_tipo", f.UnidadTipos...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// NormFilter matches every point belonging to one norm.
func NormFilter(idNorma string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeyword("id_norma", idNorma)},
	}
}
