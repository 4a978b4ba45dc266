package unidades

import (
	"strings"

	"github.com/normadata/boerag/internal/boe"
)

// ComposeText assembles a unit's plain text: optional header first,
// then the parts in document order. A part equal to the previous one,
// or already contained verbatim in it, is skipped; blank-line runs are
// collapsed to a single empty line.
func ComposeText(header string, parts []string) string {
	var kept []string

	if h := boe.NormalizeText(header); h != "" {
		kept = append(kept, h)
	}

	for _, part := range parts {
		p := boe.NormalizeText(part)
		if p == "" {
			continue
		}
		if len(kept) > 0 {
			prev := kept[len(kept)-1]
			if p == prev || strings.Contains(prev, p) {
				continue
			}
		}
		kept = append(kept, p)
	}

	return boe.NormalizeText(strings.Join(kept, "\n\n"))
}
