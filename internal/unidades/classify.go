// Package unidades builds versioned semantic units out of a norm's
// index tree and its block versions: classification, tree assembly,
// anchor selection, text composition and quality filtering.
package unidades

import (
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/storage"
)

// Kind is the structural role of an index block.
type Kind string

const (
	// KindUnitRoot starts a semantic unit (article, disposition,
	// annex, preamble).
	KindUnitRoot Kind = "UNIT_ROOT"
	// KindHeader groups units (title, chapter, section).
	KindHeader Kind = "HEADER"
	// KindNoise is editorial noise (notes, warnings, running heads).
	KindNoise Kind = "NOISE"
	// KindOther is unclassified content folded into its nearest root.
	KindOther Kind = "OTHER"
)

// Classification is the derived role of one index block.
type Classification struct {
	UnidadTipo string
	Kind       Kind
	Level      int
}

var (
	noiseTitleRe = regexp.MustCompile(`(?i)nota|advertencia|rúbrica`)

	tituloHeaderRe   = regexp.MustCompile(`(?i)^t[íi]tulo\b`)
	capituloHeaderRe = regexp.MustCompile(`(?i)^cap[íi]tulo\b`)
	seccionHeaderRe  = regexp.MustCompile(`(?i)^secci[óo]n\b`)

	idTituloRe   = regexp.MustCompile(`(?i)^t[ivxlcdm]+(-\w+)?$`)
	idCapituloRe = regexp.MustCompile(`(?i)^c[ivxlcdm]+(-\w+)?$`)
	idSeccionRe  = regexp.MustCompile(`(?i)^s\w*$`)

	idArticuloRe    = regexp.MustCompile(`(?i)^(a\d|ar-)`)
	tituloArtRe     = regexp.MustCompile(`(?i)^art[íi]culo\b`)
	tituloDispAdRe  = regexp.MustCompile(`(?i)^disposici[óo]n(es)?\s+adicional`)
	tituloDispTrRe  = regexp.MustCompile(`(?i)^disposici[óo]n(es)?\s+transitoria`)
	tituloDispFinRe = regexp.MustCompile(`(?i)^disposici[óo]n(es)?\s+final`)
	tituloDispDerRe = regexp.MustCompile(`(?i)^disposici[óo]n(es)?\s+derogatoria`)
	tituloAnexoRe   = regexp.MustCompile(`(?i)^anexo\b`)
)

// ClassifyBlock derives (unidad_tipo, kind, level) from a block's id,
// tipo text and title. Levels order the tree fold: 1..3 headers,
// 4 unit roots, 5 other, 6 noise.
func ClassifyBlock(idBloque, tipo, titulo string) Classification {
	id := strings.ToLower(strings.TrimSpace(idBloque))
	tipoNorm := strings.ToLower(strings.TrimSpace(tipo))
	titulo = strings.TrimSpace(titulo)

	if id == "fi" || id == "no" || noiseTitleRe.MatchString(titulo) {
		return Classification{UnidadTipo: storage.TipoOtros, Kind: KindNoise, Level: 6}
	}

	if id == "pr" || strings.Contains(tipoNorm, "preambulo") || strings.Contains(tipoNorm, "preámbulo") {
		return Classification{UnidadTipo: storage.TipoPreambulo, Kind: KindUnitRoot, Level: 1}
	}

	if level := headerLevel(id, tipoNorm, titulo); level > 0 {
		return Classification{UnidadTipo: storage.TipoOtros, Kind: KindHeader, Level: level}
	}

	if tipo := unitRootTipo(id, titulo); tipo != "" {
		return Classification{UnidadTipo: tipo, Kind: KindUnitRoot, Level: 4}
	}

	return Classification{UnidadTipo: storage.TipoOtros, Kind: KindOther, Level: 5}
}

// headerLevel returns 1/2/3 for title/chapter/section headers, 0 when
// the block is not a header.
func headerLevel(id, tipoNorm, titulo string) int {
	switch {
	case tituloHeaderRe.MatchString(titulo), idTituloRe.MatchString(id):
		return 1
	case capituloHeaderRe.MatchString(titulo), idCapituloRe.MatchString(id):
		return 2
	case seccionHeaderRe.MatchString(titulo), idSeccionRe.MatchString(id):
		return 3
	case strings.Contains(tipoNorm, "encabezado"):
		return 1
	default:
		return 0
	}
}

// unitRootTipo recognizes article, disposition and annex roots.
func unitRootTipo(id, titulo string) string {
	switch {
	case idArticuloRe.MatchString(id), tituloArtRe.MatchString(titulo):
		return storage.TipoArticulo
	case strings.HasPrefix(id, "da"), tituloDispAdRe.MatchString(titulo):
		return storage.TipoDisposicionAdicional
	case strings.HasPrefix(id, "dt"), tituloDispTrRe.MatchString(titulo):
		return storage.TipoDisposicionTransitoria
	case strings.HasPrefix(id, "dd"), tituloDispDerRe.MatchString(titulo):
		return storage.TipoDisposicionDerogatoria
	case strings.HasPrefix(id, "df"), tituloDispFinRe.MatchString(titulo):
		return storage.TipoDisposicionFinal
	case strings.HasPrefix(id, "an"), strings.HasPrefix(id, "ax"), tituloAnexoRe.MatchString(titulo):
		return storage.TipoAnexo
	default:
		return ""
	}
}
