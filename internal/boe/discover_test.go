package boe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/storage"
)

const discoverBody = `{
	"status": {"code": "200", "text": "OK"},
	"data": [
		{
			"identificador": "BOE-A-2015-10566",
			"titulo": "Ley 39/2015, de 1 de octubre, del Procedimiento Administrativo Común",
			"fecha_actualizacion": "20221115T115748Z",
			"fecha_publicacion": "20151002",
			"url_html_consolidada": "https://www.boe.es/buscar/act.php?id=BOE-A-2015-10566",
			"rango": {"codigo": "1300", "texto": "Ley"},
			"departamento": {"codigo": 7723, "texto": "Jefatura del Estado"},
			"ambito": {"codigo": "1", "texto": "Estatal"}
		},
		{
			"identificador": "DOGC-2020-0001",
			"titulo": "Decret 1/2020",
			"fecha_publicacion": "20200115",
			"rango": {"codigo": "1350", "texto": "Decreto"},
			"departamento": {"codigo": "9", "texto": "Generalitat de Catalunya"},
			"ambito": {"codigo": "2", "texto": "Autonómico"}
		}
	]
}`

func TestParseDiscover_NormalizesItems(t *testing.T) {
	page, err := ParseDiscover([]byte(discoverBody))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "BOE-A-2015-10566", first.Identificador)
	assert.Equal(t, "1", first.AmbitoCodigo)
	assert.Equal(t, "7723", first.DepartamentoCodigo, "numeric wire code normalized to string")
	require.NotNil(t, first.FechaActualizacion)
	assert.Equal(t, time.Date(2022, 11, 15, 11, 57, 48, 0, time.UTC), *first.FechaActualizacion)
	require.NotNil(t, first.FechaPublicacion)
	assert.Equal(t, time.Date(2015, 10, 2, 0, 0, 0, 0, time.UTC), *first.FechaPublicacion)
	assert.Nil(t, first.FechaDisposicion, "absent field stays nil")

	norma := first.ToNorma(true)
	assert.Equal(t, storage.TerritorioEstatal, norma.TerritorioTipo)
	assert.Equal(t, storage.CodigoEstado, norma.TerritorioCodigo)

	second := page.Items[1].ToNorma(true)
	assert.Equal(t, storage.TerritorioAutonomico, second.TerritorioTipo)
	assert.Equal(t, "CCAA:9", second.TerritorioCodigo)
	assert.Equal(t, "Generalitat de Catalunya", second.TerritorioNombre)
}

func TestParseDiscover_BadStatusIsHardFailure(t *testing.T) {
	_, err := ParseDiscover([]byte(`{"status":{"code":"500","text":"boom"},"data":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestParseDiscover_MalformedJSON(t *testing.T) {
	_, err := ParseDiscover([]byte(`{"status":`))
	assert.Error(t, err)
}

func TestToNorma_TerritorioDisabled(t *testing.T) {
	page, err := ParseDiscover([]byte(discoverBody))
	require.NoError(t, err)

	norma := page.Items[0].ToNorma(false)
	assert.Empty(t, norma.TerritorioTipo)
	assert.Empty(t, norma.TerritorioCodigo)
}

func TestResolveTerritorio(t *testing.T) {
	tests := []struct {
		name         string
		ambitoCodigo string
		ambitoTexto  string
		deptCodigo   string
		deptTexto    string
		wantTipo     string
		wantCodigo   string
	}{
		{"codigo 1 is estatal", "1", "", "7723", "Jefatura", storage.TerritorioEstatal, storage.CodigoEstado},
		{"texto estatal wins", "9", "Ámbito Estatal", "7723", "", storage.TerritorioEstatal, storage.CodigoEstado},
		{"ccaa from department", "2", "Autonómico", "9", "Generalitat", storage.TerritorioAutonomico, "CCAA:9"},
		{"missing department", "2", "Autonómico", "", "", storage.TerritorioAutonomico, "CCAA:UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTerritorio(tt.ambitoCodigo, tt.ambitoTexto, tt.deptCodigo, tt.deptTexto)
			assert.Equal(t, tt.wantTipo, got.Tipo)
			assert.Equal(t, tt.wantCodigo, got.Codigo)
		})
	}
}
