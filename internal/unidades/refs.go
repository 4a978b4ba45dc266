package unidades

import (
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/storage"
)

// Ordinal words appear in disposition headings ("Disposición adicional
// tercera"); numbers and roman numerals appear in articles and annexes.
var (
	refArticuloRe = regexp.MustCompile(`(?i)^art[íi]culo\s+(\d+(?:\s+(?:bis|ter|qu[áa]ter|quinquies|sexies))?)`)
	refDispRe     = regexp.MustCompile(`(?i)^disposici[óo]n\s+(?:adicional|transitoria|final|derogatoria)\s+([\wáéíóúü]+)`)
	refAnexoRe    = regexp.MustCompile(`(?i)^anexo\s+([IVXLCDM]+|\d+|[\wáéíóúü]+)`)

	refAnexoBareRe = regexp.MustCompile(`(?i)^anexo\.?$`)
	refIDCleanRe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// BuildUnidadRef derives the human-readable lineage reference from the
// first non-empty line of the composed text, falling back to the root
// title and then to a normalized block id. The ref is part of the
// lineage key, so it must be stable across revisions of the same unit.
func BuildUnidadRef(unidadTipo, text, rootTitle, idBloque string) string {
	line := firstNonEmptyLine(text)
	if line == "" {
		line = strings.TrimSpace(rootTitle)
	}

	switch unidadTipo {
	case storage.TipoPreambulo:
		return "Preámbulo"
	case storage.TipoArticulo:
		if ref := matchRef(refArticuloRe, line, rootTitle, "Art. "); ref != "" {
			return ref
		}
	case storage.TipoDisposicionAdicional:
		if ref := matchRef(refDispRe, line, rootTitle, "Disp. adicional "); ref != "" {
			return ref
		}
	case storage.TipoDisposicionTransitoria:
		if ref := matchRef(refDispRe, line, rootTitle, "Disp. transitoria "); ref != "" {
			return ref
		}
	case storage.TipoDisposicionFinal:
		if ref := matchRef(refDispRe, line, rootTitle, "Disp. final "); ref != "" {
			return ref
		}
	case storage.TipoDisposicionDerogatoria:
		if ref := matchRef(refDispRe, line, rootTitle, "Disp. derogatoria "); ref != "" {
			return ref
		}
	case storage.TipoAnexo:
		if ref := matchRef(refAnexoRe, line, rootTitle, "Anexo "); ref != "" {
			return ref
		}
		if refAnexoBare(line) || refAnexoBare(rootTitle) {
			return "Anexo"
		}
	}

	return normalizedBlockRef(idBloque)
}

func matchRef(re *regexp.Regexp, line, rootTitle, prefix string) string {
	for _, candidate := range []string{line, strings.TrimSpace(rootTitle)} {
		if m := re.FindStringSubmatch(candidate); m != nil {
			return prefix + collapseSpaces(m[1])
		}
	}
	return ""
}

func refAnexoBare(s string) bool {
	return refAnexoBareRe.MatchString(strings.TrimSpace(s))
}

func normalizedBlockRef(idBloque string) string {
	id := refIDCleanRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(idBloque)), "-")
	id = strings.Trim(id, "-")
	if id == "" {
		return "bloque"
	}
	return id
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
