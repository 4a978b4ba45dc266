package unidades

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normadata/boerag/internal/storage"
)

func TestIsHeadingOnlyUnit_Article(t *testing.T) {
	heading := "Articulo 20\n\nArticulo 20. De la calidad del sistema."
	assert.True(t, IsHeadingOnlyUnit(storage.TipoArticulo, heading))

	body := heading + "\n\nLas administraciones educativas " +
		strings.Repeat("desarrollarán planes de evaluación de la calidad del sistema. ", 3)
	assert.False(t, IsHeadingOnlyUnit(storage.TipoArticulo, body))
}

func TestIsHeadingOnlyUnit_Disposition(t *testing.T) {
	heading := "Disposición final primera\n\nDisposición final primera. Título competencial."
	assert.True(t, IsHeadingOnlyUnit(storage.TipoDisposicionFinal, heading))

	withBody := heading + "\n\nEsta ley se dicta al amparo de las competencias exclusivas del Estado " +
		"en materia de legislación básica, conforme al artículo 149 de la Constitución."
	assert.False(t, IsHeadingOnlyUnit(storage.TipoDisposicionFinal, withBody))
}

func TestIsHeadingOnlyUnit_ApartadoMeansBody(t *testing.T) {
	text := "Artículo 3.\n\n1. Primer apartado."
	assert.False(t, IsHeadingOnlyUnit(storage.TipoArticulo, text), "numbered apartado is body")

	text = "Artículo 3.\n\na) Primer inciso."
	assert.False(t, IsHeadingOnlyUnit(storage.TipoArticulo, text), "lettered inciso is body")
}

func TestIsHeadingOnlyUnit_OnlyArticlesAndDispositions(t *testing.T) {
	assert.False(t, IsHeadingOnlyUnit(storage.TipoAnexo, "Anexo"))
	assert.False(t, IsHeadingOnlyUnit(storage.TipoPreambulo, "Preámbulo"))
	assert.False(t, IsHeadingOnlyUnit(storage.TipoOtros, "x"))
	assert.False(t, IsHeadingOnlyUnit(storage.TipoArticulo, ""))
}
