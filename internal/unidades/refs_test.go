package unidades

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normadata/boerag/internal/storage"
)

func TestBuildUnidadRef(t *testing.T) {
	tests := []struct {
		name   string
		tipo   string
		text   string
		title  string
		id     string
		expect string
	}{
		{"article from first line", storage.TipoArticulo, "Artículo 12. Objeto.\nTexto.", "", "a12", "Art. 12"},
		{"article bis", storage.TipoArticulo, "Artículo 12 bis. Objeto.", "", "a12b", "Art. 12 bis"},
		{"article from title", storage.TipoArticulo, "Texto sin cabecera.", "Artículo 3", "a3", "Art. 3"},
		{"disp adicional ordinal", storage.TipoDisposicionAdicional, "Disposición adicional tercera. Plazos.", "", "da-3", "Disp. adicional tercera"},
		{"disp final", storage.TipoDisposicionFinal, "Disposición final primera.", "", "df-1", "Disp. final primera"},
		{"disp derogatoria", storage.TipoDisposicionDerogatoria, "Disposición derogatoria única.", "", "dd", "Disp. derogatoria única"},
		{"anexo roman", storage.TipoAnexo, "Anexo III. Modelos.", "", "an-3", "Anexo III"},
		{"anexo bare", storage.TipoAnexo, "Anexo", "", "an", "Anexo"},
		{"preambulo fixed", storage.TipoPreambulo, "El Gobierno...", "", "pr", "Preámbulo"},
		{"fallback to block id", storage.TipoArticulo, "Texto sin patrones.", "", "A 1/β", "a-1"},
		{"otros fallback", storage.TipoOtros, "Texto.", "", "zz-9", "zz-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, BuildUnidadRef(tt.tipo, tt.text, tt.title, tt.id))
		})
	}
}

func TestBuildUnidadRef_StableAcrossRevisions(t *testing.T) {
	// Two revisions of the same article produce the same ref even when
	// the body changes, keeping the lineage key stable.
	v1 := BuildUnidadRef(storage.TipoArticulo, "Artículo 5. Texto original.", "", "a5")
	v2 := BuildUnidadRef(storage.TipoArticulo, "Artículo 5. Texto modificado por completo.", "", "a5")
	assert.Equal(t, v1, v2)
}
