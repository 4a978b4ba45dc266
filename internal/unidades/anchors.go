package unidades

import (
	"sort"

	"github.com/normadata/boerag/internal/storage"
)

// Anchor identifies a point in the temporal evolution of a unit: one
// (vigencia, modifier-norm) pair observed across the root's versions.
type Anchor struct {
	DesdeRaw       string
	PublicacionRaw string
	Modificadora   string
}

// AnchorSet deduplicates the (vigencia, modifier) pairs of the given
// versions and returns them in ascending vigencia order. Raw tokens
// are fixed-width, so lexicographic order is temporal order; versions
// without a vigencia sort first.
func AnchorSet(versions []*storage.Version) []Anchor {
	seen := make(map[string]bool)
	var out []Anchor
	for _, v := range versions {
		key := v.FechaVigenciaRaw + "\x1f" + v.IDNormaModificadora
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Anchor{
			DesdeRaw:       v.FechaVigenciaRaw,
			PublicacionRaw: v.FechaPublicacionRaw,
			Modificadora:   v.IDNormaModificadora,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DesdeRaw != out[j].DesdeRaw {
			return out[i].DesdeRaw < out[j].DesdeRaw
		}
		return out[i].Modificadora < out[j].Modificadora
	})
	return out
}

// SelectVersion picks the version of one block for an anchor:
// exact match first, then the latest version at or before the
// anchor's vigencia, then the globally latest version.
func SelectVersion(versions []*storage.Version, anchor Anchor) *storage.Version {
	if len(versions) == 0 {
		return nil
	}

	for _, v := range versions {
		if v.FechaVigenciaRaw == anchor.DesdeRaw && v.IDNormaModificadora == anchor.Modificadora {
			return v
		}
	}

	sorted := make([]*storage.Version, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FechaVigenciaRaw != sorted[j].FechaVigenciaRaw {
			return sorted[i].FechaVigenciaRaw < sorted[j].FechaVigenciaRaw
		}
		if sorted[i].FechaPublicacionRaw != sorted[j].FechaPublicacionRaw {
			return sorted[i].FechaPublicacionRaw < sorted[j].FechaPublicacionRaw
		}
		return sorted[i].IDVersion < sorted[j].IDVersion
	})

	if anchor.DesdeRaw != "" {
		var floor *storage.Version
		for _, v := range sorted {
			if v.FechaVigenciaRaw <= anchor.DesdeRaw {
				floor = v
			}
		}
		if floor != nil {
			return floor
		}
	}
	return sorted[len(sorted)-1]
}
