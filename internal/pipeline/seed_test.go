package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/queue"
	"github.com/normadata/boerag/internal/storage"
)

type fakeDiscover struct {
	items []boe.DiscoverItem
	calls int
}

func (f *fakeDiscover) Discover(_ context.Context, q boe.DiscoverQuery) (*boe.DiscoverPage, error) {
	f.calls++
	start := min(q.Offset, len(f.items))
	end := min(q.Offset+q.Limit, len(f.items))
	return &boe.DiscoverPage{StatusCode: "200", Items: f.items[start:end]}, nil
}

type fakeFlowBroker struct {
	flows    []string // "<stage>__<id_norma>"
	inFlight map[string]bool
	depth    int64
}

func newFakeFlowBroker() *fakeFlowBroker {
	return &fakeFlowBroker{inFlight: map[string]bool{}}
}

func (f *fakeFlowBroker) EnqueueNormaFlow(_ context.Context, idNorma, _, startFrom string) (queue.EnqueueResult, error) {
	id := queue.StageJobID(startFrom, idNorma)
	if f.inFlight[id] {
		return queue.EnqueueResult{Enqueued: false, JobID: id, Reason: "duplicate"}, nil
	}
	f.inFlight[id] = true
	f.flows = append(f.flows, id)
	return queue.EnqueueResult{Enqueued: true, JobID: id}, nil
}

func (f *fakeFlowBroker) QueueCounts(context.Context, string) (queue.Counts, error) {
	return queue.Counts{Waiting: f.depth}, nil
}

func discoverItem(id string) boe.DiscoverItem {
	return boe.DiscoverItem{
		Identificador: id,
		Titulo:        "Ley de prueba " + id,
		AmbitoCodigo:  "1",
		AmbitoTexto:   "Estatal",
	}
}

func newTestSeeder(t *testing.T, client DiscoverClient, broker FlowBroker) (*storage.Store, *Seeder) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "boerag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	limits := config.PipelineConfig{
		Sync:  config.StageLimits{Concurrency: 2},
		Build: config.StageLimits{Concurrency: 2},
		Index: config.StageLimits{Concurrency: 1},
	}
	return store, NewSeeder(store, broker, client, limits, true, slog.New(slog.DiscardHandler))
}

func TestBackfill_UpsertsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	var items []boe.DiscoverItem
	for i := range 7 {
		items = append(items, discoverItem(fmt.Sprintf("BOE-A-2024-%d", i+1)))
	}
	client := &fakeDiscover{items: items}
	broker := newFakeFlowBroker()
	store, seeder := newTestSeeder(t, client, broker)

	stats, err := seeder.Backfill(ctx, BackfillOptions{From: "20240101", To: "20240131", PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, stats.NormasSeen)
	assert.Equal(t, 7, stats.NormasInserted)
	assert.Equal(t, 7, stats.FlowsEnqueued)
	assert.Equal(t, 3, client.calls, "7 items at page size 3")

	// Every norm got a sync-rooted flow and a pending sync state.
	assert.Contains(t, broker.flows, "sync__BOE-A-2024-1")
	st, err := store.GetSyncState(ctx, "BOE-A-2024-7")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, storage.StatusPending, st.Status)

	n, err := store.GetNorma(ctx, "BOE-A-2024-1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "ES:STATE", n.TerritorioCodigo)
}

func TestBackfill_LimitAndDuplicates(t *testing.T) {
	ctx := context.Background()
	client := &fakeDiscover{items: []boe.DiscoverItem{
		discoverItem("BOE-A-2024-1"),
		discoverItem("BOE-A-2024-2"),
		discoverItem("BOE-A-2024-3"),
	}}
	broker := newFakeFlowBroker()
	_, seeder := newTestSeeder(t, client, broker)

	stats, err := seeder.Backfill(ctx, BackfillOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NormasSeen)
	assert.Equal(t, 2, stats.FlowsEnqueued)

	stats, err = seeder.Backfill(ctx, BackfillOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FlowsEnqueued)
	assert.Equal(t, 2, stats.FlowsDuplicate)
	assert.Equal(t, 2, stats.NormasUntouched)
}

func TestResume_StartsAtEarliestNotOKStage(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	broker := newFakeFlowBroker()
	store, seeder := newTestSeeder(t, &fakeDiscover{}, broker)

	// One norm failed at build_units after a good sync; one is complete.
	require.NoError(t, store.EnsureNormaPending(ctx, "N-failed", now, false))
	require.NoError(t, store.MarkStageStart(ctx, "N-failed", storage.StageSync, now))
	require.NoError(t, store.MarkStageSuccess(ctx, "N-failed", storage.StageSync, now))
	require.NoError(t, store.MarkStageStart(ctx, "N-failed", storage.StageBuildUnits, now))
	require.NoError(t, store.MarkStageFailure(ctx, "N-failed", storage.StageBuildUnits, "boom", now))

	require.NoError(t, store.EnsureNormaPending(ctx, "N-done", now, false))
	for _, stage := range storage.Stages {
		require.NoError(t, store.MarkStageStart(ctx, "N-done", stage, now))
		require.NoError(t, store.MarkStageSuccess(ctx, "N-done", stage, now))
	}

	stats, err := seeder.Resume(ctx, ResumeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NormasSeen)
	assert.Equal(t, []string{"build_units__N-failed"}, broker.flows)

	st, err := store.GetSyncState(ctx, "N-failed")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, st.Stages[storage.StageBuildUnits].Status)
}

func TestSeedOptions_DataRoundTrip(t *testing.T) {
	b := BackfillOptions{From: "20240101", To: "20240131", Query: "ley", Limit: 10, PageSize: 50, ForceResetStages: true}
	assert.Equal(t, b, BackfillOptionsFromData(b.Data()))

	r := ResumeOptions{Limit: 5}
	assert.Equal(t, r, ResumeOptionsFromData(r.Data()))
}
