package boe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/config"
)

const versionFragment = `<version id_norma="X" fecha_vigencia="20200101">
	<p>Artículo 1. Objeto.</p>
	<p>La  presente&#160;Ley regula.</p>
</version>`

func TestExtractText_FastXML(t *testing.T) {
	got, err := ExtractText(config.ExtractorFastXML, versionFragment)
	require.NoError(t, err)
	assert.Contains(t, got, "Artículo 1. Objeto.")
	assert.Contains(t, got, "La presente Ley regula.")
	assert.NotContains(t, got, "<p>")
}

func TestExtractText_XPath(t *testing.T) {
	got, err := ExtractText(config.ExtractorXPath, versionFragment)
	require.NoError(t, err)
	assert.Contains(t, got, "Artículo 1. Objeto.")
	assert.Contains(t, got, "La presente Ley regula.")
}

func TestExtractText_XPathFallsBackToInnerText(t *testing.T) {
	got, err := ExtractText(config.ExtractorXPath, `<version>texto sin parrafos</version>`)
	require.NoError(t, err)
	assert.Equal(t, "texto sin parrafos", got)
}

func TestExtractText_BackendsDiffer(t *testing.T) {
	// The two extractors are deterministic individually but not
	// bit-identical to each other; identity hashes depend on the
	// configured backend.
	fast1, err := ExtractText(config.ExtractorFastXML, versionFragment)
	require.NoError(t, err)
	fast2, err := ExtractText(config.ExtractorFastXML, versionFragment)
	require.NoError(t, err)
	assert.Equal(t, fast1, fast2)
}

func TestNormalizeText(t *testing.T) {
	in := "  Artículo\t\t1.  \r\nTexto con nbsp.\n\n\n\nSegundo párrafo.  "
	got := NormalizeText(in)
	assert.Equal(t, "Artículo 1.\nTexto con nbsp.\n\nSegundo párrafo.", got)
}
