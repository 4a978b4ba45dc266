package vigencia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/storage"
)

func d(y, m, day int) time.Time {
	return time.Date(y, time.Month(m), day, 0, 0, 0, 0, time.UTC)
}

func unit(id string, desde *time.Time) *storage.Unidad {
	return &storage.Unidad{IDUnidad: id, FechaVigenciaDesde: desde}
}

func TestBuildHastaIntervals_Chain(t *testing.T) {
	d2020, d2022, d2024 := d(2020, 1, 1), d(2022, 6, 1), d(2024, 1, 1)
	units := []*storage.Unidad{
		unit("u-2022", &d2022),
		unit("u-2020", &d2020),
		unit("u-2024", &d2024),
	}

	got := BuildHastaIntervals(units)
	require.Len(t, got, 3)
	require.NotNil(t, got["u-2020"])
	assert.Equal(t, d2022, *got["u-2020"])
	require.NotNil(t, got["u-2022"])
	assert.Equal(t, d2024, *got["u-2022"])
	assert.Nil(t, got["u-2024"], "last interval stays open")
}

func TestBuildHastaIntervals_SingleAndNil(t *testing.T) {
	d2020 := d(2020, 1, 1)
	got := BuildHastaIntervals([]*storage.Unidad{unit("u", &d2020)})
	assert.Nil(t, got["u"])

	// Units without a desde sort last and never close a predecessor.
	got = BuildHastaIntervals([]*storage.Unidad{
		unit("u-dated", &d2020),
		unit("u-undated", nil),
	})
	assert.Nil(t, got["u-dated"])
	assert.Nil(t, got["u-undated"])
}

func TestIsActiveAt(t *testing.T) {
	desde, hasta := d(2020, 1, 1), d(2022, 6, 1)

	assert.True(t, IsActiveAt(&desde, &hasta, d(2020, 1, 1)), "lower bound inclusive")
	assert.True(t, IsActiveAt(&desde, &hasta, d(2021, 3, 15)))
	assert.False(t, IsActiveAt(&desde, &hasta, d(2022, 6, 1)), "upper bound strict")
	assert.False(t, IsActiveAt(&desde, &hasta, d(2019, 12, 31)))
	assert.True(t, IsActiveAt(&desde, nil, d(2099, 1, 1)), "open interval")
	assert.True(t, IsActiveAt(nil, nil, d(1900, 1, 1)))
}

func TestPayloadMillis(t *testing.T) {
	assert.Equal(t, SentinelHastaMs, ToVigenciaHastaMs(nil))
	assert.Equal(t, int64(253402300799000), SentinelHastaMs)

	h := d(2022, 6, 1)
	assert.Equal(t, h.UnixMilli(), ToVigenciaHastaMs(&h))
	assert.Equal(t, int64(0), ToVigenciaDesdeMs(nil))
	assert.Equal(t, h.UnixMilli(), ToVigenciaDesdeMs(&h))
}
