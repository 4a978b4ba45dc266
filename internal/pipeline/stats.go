package pipeline

import (
	"context"
	"time"

	"github.com/normadata/boerag/internal/queue"
	"github.com/normadata/boerag/internal/storage"
)

// Stats is the pipeline observability snapshot served by
// /pipeline/stats.
type Stats struct {
	WindowMinutes int                     `json:"windowMinutes"`
	StageCounts   map[string]int          `json:"stageCounts"`
	Queues        map[string]queue.Counts `json:"queues"`
}

// Snapshot gathers stage completion counts inside the rolling window
// and current queue depths.
func Snapshot(ctx context.Context, store *storage.Store, broker FlowBroker, windowMinutes int) (*Stats, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	counts, err := store.StageCountsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	queues := make(map[string]queue.Counts, 4)
	for _, q := range []string{queue.QueueSync, queue.QueueBuild, queue.QueueIndex, queue.QueueOrchestrator} {
		c, err := broker.QueueCounts(ctx, q)
		if err != nil {
			return nil, err
		}
		queues[q] = c
	}
	return &Stats{WindowMinutes: windowMinutes, StageCounts: counts, Queues: queues}, nil
}
