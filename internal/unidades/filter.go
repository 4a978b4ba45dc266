package unidades

import "github.com/normadata/boerag/internal/storage"

// Filter reasons recorded on the quality decision.
const (
	ReasonOK            = "ok"
	ReasonEmptyText     = "empty_text"
	ReasonTooShort      = "too_short"
	ReasonNoiseFiltered = "noise_filtered"
	ReasonNoisePromoted = "noise_promoted_to_otros"
)

const (
	minUnitChars      = 200
	noisePromoteChars = 500
)

// FilterDecision is the outcome of the keep/drop rule for one unit.
type FilterDecision struct {
	Keep       bool
	UnidadTipo string
	Reason     string
}

// ShouldKeepSemanticUnit applies the quality filter: empty and
// too-short units are dropped, noisy ones are dropped unless they
// carry enough text to be promoted to OTROS.
func ShouldKeepSemanticUnit(unidadTipo, text string, hasChildrenWithContent, looksNoise bool) FilterDecision {
	if text == "" {
		return FilterDecision{Keep: false, UnidadTipo: unidadTipo, Reason: ReasonEmptyText}
	}
	if len([]rune(text)) < minUnitChars && !hasChildrenWithContent {
		return FilterDecision{Keep: false, UnidadTipo: unidadTipo, Reason: ReasonTooShort}
	}
	if looksNoise {
		if len([]rune(text)) >= noisePromoteChars {
			return FilterDecision{Keep: true, UnidadTipo: storage.TipoOtros, Reason: ReasonNoisePromoted}
		}
		return FilterDecision{Keep: false, UnidadTipo: unidadTipo, Reason: ReasonNoiseFiltered}
	}
	return FilterDecision{Keep: true, UnidadTipo: unidadTipo, Reason: ReasonOK}
}
