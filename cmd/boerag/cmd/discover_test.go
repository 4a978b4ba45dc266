package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/objectstore"
	"github.com/normadata/boerag/internal/storage"
)

func discoverBody(ids []string, offset, limit int) string {
	out := `{"status":{"code":"200","text":"OK"},"data":[`
	end := min(offset+limit, len(ids))
	for i := offset; i < end; i++ {
		if i > offset {
			out += ","
		}
		out += fmt.Sprintf(`{"identificador":%q,"titulo":"Ley %d","ambito":{"codigo":"1","texto":"Estatal"}}`, ids[i], i+1)
	}
	return out + `]}`
}

// newTestServices stands up services over temp stores and a stub
// source API listing the given norm ids.
func newTestServices(t *testing.T, ids []string) *services {
	t.Helper()
	rootLog = slog.New(slog.DiscardHandler)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(discoverBody(ids, offset, limit)))
	}))
	t.Cleanup(ts.Close)

	store, err := storage.Open(filepath.Join(t.TempDir(), "boerag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Source.BaseURL = ts.URL
	return &services{
		cfg:     cfg,
		store:   store,
		objects: objectstore.New(t.TempDir()),
		client:  boe.NewClient(cfg.Source),
	}
}

func TestRunDiscover_PaginatesAndUpserts(t *testing.T) {
	ctx := context.Background()
	ids := []string{"BOE-A-2024-1", "BOE-A-2024-2", "BOE-A-2024-3", "BOE-A-2024-4", "BOE-A-2024-5"}
	svc := newTestServices(t, ids)

	stats, err := runDiscover(ctx, svc, "20240101", "20240131", "", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages, "5 items at page size 2")
	assert.Equal(t, 5, stats.NormasSeen)
	assert.Equal(t, 5, stats.NormasInserted)

	n, err := svc.store.GetNorma(ctx, "BOE-A-2024-1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, storage.CodigoEstado, n.TerritorioCodigo)

	// A second pass touches instead of inserting.
	stats, err = runDiscover(ctx, svc, "20240101", "20240131", "", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NormasInserted)
	assert.Equal(t, 5, stats.NormasUntouched)
}

func TestRunDiscover_LimitStopsEarly(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t, []string{"BOE-A-2024-1", "BOE-A-2024-2", "BOE-A-2024-3"})

	stats, err := runDiscover(ctx, svc, "", "", "", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NormasSeen)
}

func TestRunDiscover_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t, []string{"BOE-A-2024-1"})
	svc.store.DryRun = true

	stats, err := runDiscover(ctx, svc, "", "", "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NormasSeen)

	n, err := svc.store.GetNorma(ctx, "BOE-A-2024-1")
	require.NoError(t, err)
	assert.Nil(t, n, "dry-run must not persist the norm")
}
