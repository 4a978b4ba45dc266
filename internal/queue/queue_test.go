package queue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/storage"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	b := NewBroker(config.RedisConfig{Addr: mr.Addr()}, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestQueueForStage(t *testing.T) {
	assert.Equal(t, QueueSync, QueueForStage(storage.StageSync))
	assert.Equal(t, QueueBuild, QueueForStage(storage.StageBuildUnits))
	assert.Equal(t, QueueBuild, QueueForStage(storage.StageBuildChunks))
	assert.Equal(t, QueueIndex, QueueForStage(storage.StageIndex))
}

func TestEnqueueNormaFlow_FromBuildUnits(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	res, err := b.EnqueueNormaFlow(ctx, "BOE-A-2015-1", TriggerResume, storage.StageBuildUnits)
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
	assert.Equal(t, "build_units__BOE-A-2015-1", res.JobID)

	// All three chain jobs exist; only the first is on a waiting list.
	for _, stage := range []string{storage.StageBuildUnits, storage.StageBuildChunks, storage.StageIndex} {
		has, err := b.HasJob(ctx, QueueForStage(stage), StageJobID(stage, "BOE-A-2015-1"))
		require.NoError(t, err)
		assert.True(t, has, stage)
	}
	build, err := b.QueueCounts(ctx, QueueBuild)
	require.NoError(t, err)
	assert.Equal(t, int64(1), build.Waiting)
	index, err := b.QueueCounts(ctx, QueueIndex)
	require.NoError(t, err)
	assert.Equal(t, int64(0), index.Depth(), "index job is parked, not queued")

	res, err = b.EnqueueNormaFlow(ctx, "BOE-A-2015-1", TriggerResume, storage.StageBuildUnits)
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, "duplicate", res.Reason)
}

func TestCompletePromotesSuccessor(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.EnqueueNormaFlow(ctx, "N1", TriggerBackfill, storage.StageSync)
	require.NoError(t, err)

	job, err := b.readJob(ctx, QueueSync, StageJobID(storage.StageSync, "N1"))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, []string{storage.StageBuildUnits, storage.StageBuildChunks, storage.StageIndex}, job.Next)

	require.NoError(t, b.complete(ctx, job))

	build, err := b.QueueCounts(ctx, QueueBuild)
	require.NoError(t, err)
	assert.Equal(t, int64(1), build.Waiting, "build_units promoted after sync completes")

	// Completing released the dedup claim: the stage can be re-enqueued.
	res, err := b.EnqueueNormaFlow(ctx, "N1", TriggerBackfill, storage.StageSync)
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
}

func TestRetryBackoffAndExhaustion(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	job := &Job{
		ID: "sync__N1", Queue: QueueSync, Stage: storage.StageSync, IDNorma: "N1",
		MaxAttempts: 2, BackoffMs: 1000,
	}
	require.NoError(t, b.writeJob(ctx, job))

	require.NoError(t, b.retryOrFail(ctx, job, errors.Newf(errors.ErrCodeHTTPUnavailable, "503"), now))
	counts, err := b.QueueCounts(ctx, QueueSync)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)

	// Not due one millisecond before the backoff elapses.
	n, err := b.promoteDelayed(ctx, QueueSync, now.Add(999*time.Millisecond))
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = b.promoteDelayed(ctx, QueueSync, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second failure exhausts the budget.
	require.NoError(t, b.retryOrFail(ctx, job, errors.Newf(errors.ErrCodeHTTPUnavailable, "503"), now))
	counts, err = b.QueueCounts(ctx, QueueSync)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed)
	assert.Equal(t, int64(0), counts.Delayed)

	kept, err := b.readJob(ctx, QueueSync, job.ID)
	require.NoError(t, err)
	require.NotNil(t, kept, "failed job bodies are kept for inspection")
	assert.Equal(t, 2, kept.AttemptsMade)
	assert.Contains(t, kept.LastError, "503")
}

func TestEnqueueSeed_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	first, err := b.EnqueueSeed(ctx, TriggerBackfill, map[string]string{"from": "20240101"})
	require.NoError(t, err)
	second, err := b.EnqueueSeed(ctx, TriggerBackfill, map[string]string{"from": "20240101"})
	require.NoError(t, err)
	assert.True(t, first.Enqueued)
	assert.True(t, second.Enqueued)
	assert.NotEqual(t, first.JobID, second.JobID)

	counts, err := b.QueueCounts(ctx, QueueOrchestrator)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)
}

func TestPurge_DropsWaitingAndReleasesDedup(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.EnqueueNormaFlow(ctx, "N1", TriggerBackfill, storage.StageSync)
	require.NoError(t, err)
	_, err = b.EnqueueNormaFlow(ctx, "N2", TriggerBackfill, storage.StageSync)
	require.NoError(t, err)

	purged, err := b.Purge(ctx, QueueSync)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	counts, err := b.QueueCounts(ctx, QueueSync)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Depth())

	job, err := b.readJob(ctx, QueueSync, StageJobID(storage.StageSync, "N1"))
	require.NoError(t, err)
	assert.Nil(t, job, "purge removes job bodies")

	// The dedup claim is gone: the flow can be enqueued again.
	res, err := b.EnqueueNormaFlow(ctx, "N1", TriggerBackfill, storage.StageSync)
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
}

func TestConsumer_ProcessesAndDrains(t *testing.T) {
	b := newTestBroker(t)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 8)
	handler := func(_ context.Context, job *Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewConsumer(b, QueueOrchestrator, config.StageLimits{Concurrency: 2}, handler, slog.New(slog.DiscardHandler))

	finished := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(finished)
	}()

	_, err := b.EnqueueSeed(ctx, TriggerResume, nil)
	require.NoError(t, err)
	_, err = b.EnqueueSeed(ctx, TriggerResume, nil)
	require.NoError(t, err)

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handler was not called")
		}
	}
	cancel()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}

func TestConsumer_FailedJobGoesToDelayed(t *testing.T) {
	b := newTestBroker(t)

	done := make(chan struct{}, 1)
	handler := func(context.Context, *Job) error {
		defer func() { done <- struct{}{} }()
		return errors.Newf(errors.ErrCodeEmbeddingFailed, "backend down")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewConsumer(b, QueueIndex, config.StageLimits{Concurrency: 1}, handler, slog.New(slog.DiscardHandler))

	finished := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(finished)
	}()

	_, err := b.enqueue(ctx, &Job{
		ID: "index__N1", Queue: QueueIndex, Stage: storage.StageIndex, IDNorma: "N1",
		MaxAttempts: 5, BackoffMs: 60_000,
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
	cancel()
	<-finished

	counts, err := b.QueueCounts(context.Background(), QueueIndex)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
	assert.Equal(t, int64(0), counts.Active)
}
