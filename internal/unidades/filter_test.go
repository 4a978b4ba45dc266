package unidades

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normadata/boerag/internal/storage"
)

func TestShouldKeepSemanticUnit(t *testing.T) {
	long := strings.Repeat("Texto normativo con contenido sustantivo. ", 15)
	short := "Texto corto."

	d := ShouldKeepSemanticUnit(storage.TipoArticulo, "", false, false)
	assert.False(t, d.Keep)
	assert.Equal(t, ReasonEmptyText, d.Reason)

	d = ShouldKeepSemanticUnit(storage.TipoArticulo, short, false, false)
	assert.False(t, d.Keep)
	assert.Equal(t, ReasonTooShort, d.Reason)

	// Children with content rescue a short root.
	d = ShouldKeepSemanticUnit(storage.TipoArticulo, short, true, false)
	assert.True(t, d.Keep)
	assert.Equal(t, ReasonOK, d.Reason)

	d = ShouldKeepSemanticUnit(storage.TipoArticulo, long, false, false)
	assert.True(t, d.Keep)
	assert.Equal(t, storage.TipoArticulo, d.UnidadTipo)

	// Noise is dropped unless long enough to promote.
	d = ShouldKeepSemanticUnit(storage.TipoArticulo, strings.Repeat("x", 300), false, true)
	assert.False(t, d.Keep)
	assert.Equal(t, ReasonNoiseFiltered, d.Reason)

	d = ShouldKeepSemanticUnit(storage.TipoArticulo, strings.Repeat("x", 600), false, true)
	assert.True(t, d.Keep)
	assert.Equal(t, storage.TipoOtros, d.UnidadTipo)
	assert.Equal(t, ReasonNoisePromoted, d.Reason)
}

func TestComposeText(t *testing.T) {
	got := ComposeText("Artículo 1", []string{
		"Artículo 1",                       // equals previous part, skipped
		"Primer párrafo del artículo.",
		"Primer párrafo del artículo.",     // duplicate, skipped
		"párrafo",                          // contained in previous, skipped
		"Segundo  párrafo\r\ncon saltos.",
		"",
	})
	assert.Equal(t, "Artículo 1\n\nPrimer párrafo del artículo.\n\nSegundo párrafo\ncon saltos.", got)
}

func TestComposeText_EmptyInputs(t *testing.T) {
	assert.Equal(t, "", ComposeText("", nil))
	assert.Equal(t, "Cabecera", ComposeText("  Cabecera  ", []string{""}))
}
