package boe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexAttrForm = `<?xml version="1.0" encoding="utf-8"?>
<response>
	<status code="200"/>
	<data>
		<bloque id="pr" tipo="preambulo" titulo="Preámbulo" fecha_actualizacion="20200101T000000Z"/>
		<bloque id="a1" tipo="precepto" titulo="Artículo 1" url="https://example/a1" fecha_actualizacion="20221115T115748Z"/>
		<bloque id="a2" tipo="precepto" titulo="Artículo 2"/>
	</data>
</response>`

const indexChildForm = `<response>
	<status><code>200</code></status>
	<data>
		<bloque><id>pr</id><tipo>preambulo</tipo><titulo>Preámbulo</titulo></bloque>
		<bloque><id>a1</id><tipo>precepto</tipo><titulo>Artículo 1</titulo><fecha_actualizacion>20221115T115748Z</fecha_actualizacion></bloque>
	</data>
</response>`

func TestParseIndexXML_AttributeForm(t *testing.T) {
	doc, err := ParseIndexXML([]byte(indexAttrForm))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 3)

	assert.Equal(t, "pr", doc.Blocks[0].IDBloque)
	assert.Equal(t, "a1", doc.Blocks[1].IDBloque)
	assert.Equal(t, "https://example/a1", doc.Blocks[1].URL)
	assert.Equal(t, 1, doc.Blocks[1].Orden)
	assert.Empty(t, doc.Blocks[2].FechaActualizacionRaw)
	assert.Equal(t, "20221115T115748Z", doc.FechaActualizacionRaw, "index timestamp is the max block timestamp")
}

func TestParseIndexXML_ChildForm(t *testing.T) {
	doc, err := ParseIndexXML([]byte(indexChildForm))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "a1", doc.Blocks[1].IDBloque)
	assert.Equal(t, "precepto", doc.Blocks[1].Tipo)
	assert.Equal(t, "20221115T115748Z", doc.Blocks[1].FechaActualizacionRaw)
}

func TestParseIndexXML_BadStatus(t *testing.T) {
	_, err := ParseIndexXML([]byte(`<response><status code="404"/><data/></response>`))
	assert.Error(t, err)
}

const bloqueBody = `<response>
	<status code="200"/>
	<data>
		<bloque id="a1" tipo="precepto" titulo="Artículo 1">
			<version id_norma="BOE-A-2015-10566" fecha_vigencia="20151002" fecha_publicacion="20151002">
				<p>Artículo 1. Objeto de la Ley.</p>
				<p>La presente Ley tiene por objeto regular los requisitos.</p>
			</version>
			<version id_norma="BOE-A-2022-0001" fecha_vigencia="20221201">
				<p>Artículo 1. Objeto de la Ley.</p>
				<p>Texto modificado por la norma de 2022.</p>
			</version>
		</bloque>
	</data>
</response>`

func TestParseBloqueXML_VersionsKeepRawSlices(t *testing.T) {
	doc, err := ParseBloqueXML([]byte(bloqueBody))
	require.NoError(t, err)

	assert.Equal(t, "a1", doc.IDBloque)
	assert.Equal(t, "precepto", doc.Tipo)
	require.Len(t, doc.Versions, 2)

	first := doc.Versions[0]
	assert.Equal(t, "BOE-A-2015-10566", first.IDNormaModificadora)
	assert.Equal(t, "20151002", first.FechaVigenciaRaw)
	assert.Equal(t, "20151002", first.FechaPublicacionRaw)
	// The raw slice is the verbatim original, not a re-serialization.
	assert.True(t, strings.HasPrefix(first.RawXML, `<version id_norma="BOE-A-2015-10566"`))
	assert.Contains(t, first.RawXML, "requisitos.")
	assert.True(t, strings.HasSuffix(first.RawXML, "</version>"))

	second := doc.Versions[1]
	assert.Equal(t, "BOE-A-2022-0001", second.IDNormaModificadora)
	assert.Empty(t, second.FechaPublicacionRaw)
	assert.Contains(t, second.RawXML, "2022")
}

func TestRebuildVersionXML_Fallback(t *testing.T) {
	v := xmlBloqueVersion{
		IDNorma:       `BOE-A-2020-"1"`,
		FechaVigencia: "20200101",
		Inner:         "<p>texto</p>",
	}
	got := rebuildVersionXML(v)
	assert.Contains(t, got, "&quot;1&quot;")
	assert.True(t, strings.HasSuffix(got, "</version>"))
}

func TestParseBloqueXML_SelfClosingVersion(t *testing.T) {
	doc, err := ParseBloqueXML([]byte(`<response><status code="200"/><data>
		<bloque id="a2" tipo="precepto" titulo="Artículo 2">
			<version id_norma="X" fecha_vigencia="20200101"/>
		</bloque>
	</data></response>`))
	require.NoError(t, err)
	require.Len(t, doc.Versions, 1)
	assert.True(t, strings.HasSuffix(doc.Versions[0].RawXML, "/>"))
}
