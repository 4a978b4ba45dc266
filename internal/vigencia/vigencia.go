// Package vigencia derives validity intervals for semantic-unit
// lineages and evaluates the as-of predicate used by retrieval.
package vigencia

import (
	"sort"
	"time"

	"github.com/normadata/boerag/internal/storage"
)

// SentinelHastaMs stands in for an open upper bound when the interval
// is mirrored into a numeric vector payload, so one range predicate
// covers both open and closed intervals. It is 9999-12-31T23:59:59Z in
// milliseconds.
const SentinelHastaMs int64 = 253402300799000

// BuildHastaIntervals computes the derived upper bound for each unit
// of one lineage: sorted by (vigencia_desde, id) with nulls last, each
// unit closes at the next unit's desde; the last interval stays open.
// The result maps id_unidad to its hasta (nil for open).
func BuildHastaIntervals(units []*storage.Unidad) map[string]*time.Time {
	sorted := make([]*storage.Unidad, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].FechaVigenciaDesde, sorted[j].FechaVigenciaDesde
		switch {
		case a == nil && b == nil:
			return sorted[i].IDUnidad < sorted[j].IDUnidad
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return sorted[i].IDUnidad < sorted[j].IDUnidad
		}
	})

	out := make(map[string]*time.Time, len(sorted))
	for i, u := range sorted {
		if i+1 < len(sorted) && sorted[i+1].FechaVigenciaDesde != nil {
			next := *sorted[i+1].FechaVigenciaDesde
			out[u.IDUnidad] = &next
		} else {
			out[u.IDUnidad] = nil
		}
	}
	return out
}

// IsActiveAt reports whether a unit with the given interval is in
// force at t: inclusive lower bound, strict upper bound. A nil desde
// means "since forever".
func IsActiveAt(desde, hasta *time.Time, t time.Time) bool {
	if desde != nil && desde.After(t) {
		return false
	}
	return hasta == nil || t.Before(*hasta)
}

// ToVigenciaDesdeMs renders a lower bound for the vector payload; a
// missing desde becomes 0.
func ToVigenciaDesdeMs(desde *time.Time) int64 {
	if desde == nil {
		return 0
	}
	return desde.UnixMilli()
}

// ToVigenciaHastaMs renders an upper bound for the vector payload; an
// open interval becomes the sentinel.
func ToVigenciaHastaMs(hasta *time.Time) int64 {
	if hasta == nil {
		return SentinelHastaMs
	}
	return hasta.UnixMilli()
}
