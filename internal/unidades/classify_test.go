package unidades

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/storage"
)

func TestClassifyBlock(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		tipo     string
		titulo   string
		wantTipo string
		wantKind Kind
		wantLvl  int
	}{
		{"preamble by id", "pr", "", "", storage.TipoPreambulo, KindUnitRoot, 1},
		{"preamble by tipo", "x1", "preambulo", "", storage.TipoPreambulo, KindUnitRoot, 1},
		{"noise fi", "fi", "", "Firma", storage.TipoOtros, KindNoise, 6},
		{"noise by title", "x2", "", "Nota de vigencia", storage.TipoOtros, KindNoise, 6},
		{"titulo header", "ti", "encabezado", "Título I", storage.TipoOtros, KindHeader, 1},
		{"capitulo header", "ci", "", "Capítulo II", storage.TipoOtros, KindHeader, 2},
		{"seccion header", "s1", "", "Sección 1.ª", storage.TipoOtros, KindHeader, 3},
		{"article by id", "a12", "precepto", "", storage.TipoArticulo, KindUnitRoot, 4},
		{"article by id prefix", "ar-3", "", "", storage.TipoArticulo, KindUnitRoot, 4},
		{"article by title", "x3", "", "Artículo 12. Objeto", storage.TipoArticulo, KindUnitRoot, 4},
		{"disp adicional", "da-1", "", "", storage.TipoDisposicionAdicional, KindUnitRoot, 4},
		{"disp transitoria", "dt-2", "", "", storage.TipoDisposicionTransitoria, KindUnitRoot, 4},
		{"disp final", "df", "", "", storage.TipoDisposicionFinal, KindUnitRoot, 4},
		{"disp derogatoria", "dd", "", "", storage.TipoDisposicionDerogatoria, KindUnitRoot, 4},
		{"anexo", "an-1", "", "", storage.TipoAnexo, KindUnitRoot, 4},
		{"anexo by title", "x4", "", "Anexo III", storage.TipoAnexo, KindUnitRoot, 4},
		{"other", "zz", "parte", "Texto suelto", storage.TipoOtros, KindOther, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyBlock(tt.id, tt.tipo, tt.titulo)
			assert.Equal(t, tt.wantTipo, got.UnidadTipo)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantLvl, got.Level)
		})
	}
}

func TestBuildTree_HeaderFold(t *testing.T) {
	// Given a title, a chapter and an article in document order.
	blocks := []boe.IndexBlockRef{
		{IDBloque: "ti", Titulo: "Título I", Orden: 0},
		{IDBloque: "ci", Titulo: "Capítulo I", Orden: 1},
		{IDBloque: "a1", Titulo: "Artículo 1", Orden: 2},
	}

	tree := BuildTree(blocks)
	require.Len(t, tree.Order, 3)

	a1 := tree.Nodes["a1"]
	ci := tree.Nodes["ci"]
	ti := tree.Nodes["ti"]

	assert.Equal(t, "ci", a1.ParentID)
	assert.Equal(t, "ti", ci.ParentID)
	assert.Empty(t, ti.ParentID)
	assert.Equal(t, KindUnitRoot, a1.Class.Kind)
	assert.Equal(t, storage.TipoArticulo, a1.Class.UnidadTipo)
	assert.Equal(t, KindHeader, ti.Class.Kind)
	assert.Equal(t, 1, ti.Class.Level)
	assert.Equal(t, KindHeader, ci.Class.Kind)
	assert.Equal(t, 2, ci.Class.Level)
}

func TestRootCandidates_AndSubtree(t *testing.T) {
	blocks := []boe.IndexBlockRef{
		{IDBloque: "pr", Titulo: "", Orden: 0},
		{IDBloque: "ti", Titulo: "Título I", Orden: 1},
		{IDBloque: "a1", Titulo: "Artículo 1", Orden: 2},
		{IDBloque: "p1", Tipo: "parte", Titulo: "Apartado suelto", Orden: 3},
		{IDBloque: "a2", Titulo: "Artículo 2", Orden: 4},
	}
	tree := BuildTree(blocks)

	roots := tree.RootCandidates()
	ids := make([]string, 0, len(roots))
	for _, r := range roots {
		ids = append(ids, r.IDBloque)
	}
	// p1 is level 5 under a1 (a non-header ancestor), so it is not a
	// root; it belongs to a1's subtree.
	assert.Equal(t, []string{"pr", "a1", "a2"}, ids)

	sub := tree.Subtree("a1")
	subIDs := make([]string, 0, len(sub))
	for _, n := range sub {
		subIDs = append(subIDs, n.IDBloque)
	}
	assert.Equal(t, []string{"a1", "p1"}, subIDs)
}
