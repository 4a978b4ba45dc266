package boe

import (
	"regexp"

	"github.com/normadata/boerag/internal/storage"
)

var estatalRe = regexp.MustCompile(`(?i)estatal`)

// TerritorioInfo is the derived geographic scope of a norm.
type TerritorioInfo struct {
	Tipo   string
	Codigo string
	Nombre string
}

// ResolveTerritorio derives the territorio from the discover ambito
// and departamento fields. Ambito code "1" or an /estatal/i ambito
// text means state-level; everything else is regional, keyed by the
// department code.
func ResolveTerritorio(ambitoCodigo, ambitoTexto, deptCodigo, deptTexto string) TerritorioInfo {
	if ambitoCodigo == "1" || estatalRe.MatchString(ambitoTexto) {
		return TerritorioInfo{
			Tipo:   storage.TerritorioEstatal,
			Codigo: storage.CodigoEstado,
			Nombre: "Estado",
		}
	}
	codigo := "CCAA:UNKNOWN"
	if deptCodigo != "" {
		codigo = "CCAA:" + deptCodigo
	}
	nombre := deptTexto
	if nombre == "" {
		nombre = "Comunidad Autónoma"
	}
	return TerritorioInfo{
		Tipo:   storage.TerritorioAutonomico,
		Codigo: codigo,
		Nombre: nombre,
	}
}
