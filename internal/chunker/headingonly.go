package chunker

import (
	"regexp"
	"strings"

	"github.com/normadata/boerag/internal/storage"
)

var (
	chunkApartadoRe     = regexp.MustCompile(`(?m)^\d+\.\s`)
	chunkDashApartadoRe = regexp.MustCompile(`(?m)^[-–]\s`)
	chunkIncisoRe       = regexp.MustCompile(`(?m)^[a-z]\)\s`)

	chunkArtShortRe  = regexp.MustCompile(`(?i)^art[íi]culo\s+\d+[\w\s]*\.?$`)
	chunkArtTitleRe  = regexp.MustCompile(`(?i)^art[íi]culo\s+\d+[\w\s]*\.\s+\S.*$`)
	chunkDispShortRe = regexp.MustCompile(`(?i)^disposici[óo]n\s+(adicional|transitoria|final|derogatoria)(\s+[\wáéíóúü]+)?\.?$`)
	chunkDispTitleRe = regexp.MustCompile(`(?i)^disposici[óo]n\s+(adicional|transitoria|final|derogatoria)(\s+[\wáéíóúü]+)?\.\s+\S.*$`)

	sentenceSplitRe = regexp.MustCompile(`[.;:]\s+`)
)

const (
	chunkHeadingMaxChars     = 120
	longSentenceMinChars     = 35
	maxLongSentencesForNoise = 2
)

// IsHeadingOnlyChunk reports whether a single chunk carries nothing
// but the unit's own heading, independently of the unit-level flag.
// Such chunks are dropped instead of embedded.
func IsHeadingOnlyChunk(unidadTipo, text string) bool {
	var short, title *regexp.Regexp
	switch unidadTipo {
	case storage.TipoArticulo:
		short, title = chunkArtShortRe, chunkArtTitleRe
	case storage.TipoDisposicionAdicional, storage.TipoDisposicionTransitoria,
		storage.TipoDisposicionFinal, storage.TipoDisposicionDerogatoria:
		short, title = chunkDispShortRe, chunkDispTitleRe
	default:
		return false
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if len([]rune(trimmed)) >= chunkHeadingMaxChars {
		return false
	}
	if chunkApartadoRe.MatchString(trimmed) ||
		chunkDashApartadoRe.MatchString(trimmed) ||
		chunkIncisoRe.MatchString(trimmed) {
		return false
	}
	if countLongSentences(trimmed) > maxLongSentencesForNoise {
		return false
	}

	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 || len(lines) > 2 {
		return false
	}
	for _, line := range lines {
		if !short.MatchString(line) && !title.MatchString(line) {
			return false
		}
	}
	return true
}

func countLongSentences(text string) int {
	count := 0
	for _, s := range sentenceSplitRe.Split(text, -1) {
		if len([]rune(strings.TrimSpace(s))) >= longSentenceMinChars {
			count++
		}
	}
	return count
}
