package unidades

import (
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/storage"
)

// Apartado and inciso markers: any line opening a numbered or lettered
// clause means the unit has body content.
var (
	apartadoRe = regexp.MustCompile(`^\d+\.\s`)
	incisoRe   = regexp.MustCompile(`^[a-z]\)\s`)

	artShortHeaderRe = regexp.MustCompile(`(?i)^art[íi]culo\s+\d+[\w\s]*\.?$`)
	artTitleHeaderRe = regexp.MustCompile(`(?i)^art[íi]culo\s+\d+[\w\s]*\.\s+\S.*$`)

	dispShortHeaderRe = regexp.MustCompile(`(?i)^disposici[óo]n\s+(adicional|transitoria|final|derogatoria)(\s+[\wáéíóúü]+)?\.?$`)
	dispTitleHeaderRe = regexp.MustCompile(`(?i)^disposici[óo]n\s+(adicional|transitoria|final|derogatoria)(\s+[\wáéíóúü]+)?\.\s+\S.*$`)
)

const headingOnlyMaxRemainder = 120

// IsHeadingOnlyUnit reports whether a unit's text carries nothing but
// its own heading. Only articles and dispositions qualify; such units
// are persisted but skipped by retrieval.
func IsHeadingOnlyUnit(unidadTipo, text string) bool {
	short, title := headerPatterns(unidadTipo)
	if short == nil {
		return false
	}

	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return false
	}

	var remainder int
	for _, line := range lines {
		if apartadoRe.MatchString(line) || incisoRe.MatchString(line) {
			return false
		}
		if short.MatchString(line) || title.MatchString(line) {
			continue
		}
		remainder += len([]rune(line))
	}
	return remainder < headingOnlyMaxRemainder
}

// headerPatterns returns the type-specific short and title header
// regexes, nil for types without heading-only semantics.
func headerPatterns(unidadTipo string) (short, title *regexp.Regexp) {
	switch unidadTipo {
	case storage.TipoArticulo:
		return artShortHeaderRe, artTitleHeaderRe
	case storage.TipoDisposicionAdicional, storage.TipoDisposicionTransitoria,
		storage.TipoDisposicionFinal, storage.TipoDisposicionDerogatoria:
		return dispShortHeaderRe, dispTitleHeaderRe
	default:
		return nil, nil
	}
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
