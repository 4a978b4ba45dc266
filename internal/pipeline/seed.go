package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/queue"
	"github.com/normadata/boerag/internal/storage"
)

const (
	defaultPageSize = 50
	seedBatchSize   = 25
	// capacityFactor bounds queue depth to 4x a stage's concurrency
	// before a seed batch may enqueue more flows.
	capacityFactor = 4
	capacityPoll   = time.Second
)

// DiscoverClient is the slice of the source API the backfill seed
// uses. *boe.Client implements it.
type DiscoverClient interface {
	Discover(ctx context.Context, q boe.DiscoverQuery) (*boe.DiscoverPage, error)
}

// FlowBroker is the slice of the queue broker the seeds use.
// *queue.Broker implements it.
type FlowBroker interface {
	EnqueueNormaFlow(ctx context.Context, idNorma, trigger, startFrom string) (queue.EnqueueResult, error)
	QueueCounts(ctx context.Context, queueName string) (queue.Counts, error)
}

// BackfillOptions parameterizes a backfill seed. Dates are wire form
// (YYYYMMDD).
type BackfillOptions struct {
	From             string
	To               string
	Query            string
	Limit            int
	PageSize         int
	ForceResetStages bool
}

// ResumeOptions parameterizes a resume seed.
type ResumeOptions struct {
	Limit int
}

// BackfillOptionsFromData decodes a seed job's data payload.
func BackfillOptionsFromData(data map[string]string) BackfillOptions {
	return BackfillOptions{
		From:             data["from"],
		To:               data["to"],
		Query:            data["query"],
		Limit:            atoi(data["limit"]),
		PageSize:         atoi(data["pageSize"]),
		ForceResetStages: data["forceReset"] == "true",
	}
}

// Data encodes the options for a seed job payload.
func (o BackfillOptions) Data() map[string]string {
	return map[string]string{
		"from":       o.From,
		"to":         o.To,
		"query":      o.Query,
		"limit":      strconv.Itoa(o.Limit),
		"pageSize":   strconv.Itoa(o.PageSize),
		"forceReset": strconv.FormatBool(o.ForceResetStages),
	}
}

// ResumeOptionsFromData decodes a seed job's data payload.
func ResumeOptionsFromData(data map[string]string) ResumeOptions {
	return ResumeOptions{Limit: atoi(data["limit"])}
}

// Data encodes the options for a seed job payload.
func (o ResumeOptions) Data() map[string]string {
	return map[string]string{"limit": strconv.Itoa(o.Limit)}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// SeedStats counts what one seed run did.
type SeedStats struct {
	NormasSeen      int `json:"normas_seen"`
	FlowsEnqueued   int `json:"flows_enqueued"`
	FlowsDuplicate  int `json:"flows_duplicate"`
	NormasInserted  int `json:"normas_inserted"`
	NormasUpdated   int `json:"normas_updated"`
	NormasUntouched int `json:"normas_untouched"`
}

// Seeder feeds norm flows into the queues with backpressure.
type Seeder struct {
	store  *storage.Store
	broker FlowBroker
	client DiscoverClient
	limits config.PipelineConfig
	territ bool
	log    *slog.Logger
}

// NewSeeder builds a seeder. normalizeTerritory mirrors the storage
// configuration flag applied on discover upserts.
func NewSeeder(store *storage.Store, broker FlowBroker, client DiscoverClient, limits config.PipelineConfig, normalizeTerritory bool, log *slog.Logger) *Seeder {
	return &Seeder{store: store, broker: broker, client: client, limits: limits, territ: normalizeTerritory, log: log}
}

// Backfill discovers norms page by page, upserts them and enqueues one
// flow per norm starting at sync.
func (s *Seeder) Backfill(ctx context.Context, opts BackfillOptions) (*SeedStats, error) {
	now := time.Now().UTC()
	stats := &SeedStats{}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	seen := make(map[string]bool)
	var order []string
	for offset := 0; ; offset += pageSize {
		page, err := s.client.Discover(ctx, boe.DiscoverQuery{
			From:   opts.From,
			To:     opts.To,
			Offset: offset,
			Limit:  pageSize,
			Query:  opts.Query,
		})
		if err != nil {
			return stats, err
		}
		for _, item := range page.Items {
			if item.Identificador == "" || seen[item.Identificador] {
				continue
			}
			seen[item.Identificador] = true

			outcome, err := s.store.UpsertNormaFromDiscover(ctx, item.ToNorma(s.territ), now)
			if err != nil {
				return stats, err
			}
			switch outcome {
			case storage.OutcomeInserted:
				stats.NormasInserted++
			case storage.OutcomeUpdated:
				stats.NormasUpdated++
			default:
				stats.NormasUntouched++
			}
			order = append(order, item.Identificador)
			if opts.Limit > 0 && len(order) >= opts.Limit {
				break
			}
		}
		if len(page.Items) < pageSize || (opts.Limit > 0 && len(order) >= opts.Limit) {
			break
		}
	}
	stats.NormasSeen = len(order)
	s.log.Info("backfill discovered norms", "count", len(order), "from", opts.From, "to", opts.To)

	for start := 0; start < len(order); start += seedBatchSize {
		end := min(start+seedBatchSize, len(order))
		batch := order[start:end]

		if err := s.store.EnsureNormasPending(ctx, batch, now, opts.ForceResetStages); err != nil {
			return stats, err
		}
		if err := s.waitForQueueCapacity(ctx); err != nil {
			return stats, err
		}
		for _, id := range batch {
			if err := s.enqueueFlow(ctx, id, queue.TriggerBackfill, storage.StageSync, stats); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// Resume re-enqueues norms whose pipeline has not completed, starting
// each at its earliest not-ok stage.
func (s *Seeder) Resume(ctx context.Context, opts ResumeOptions) (*SeedStats, error) {
	now := time.Now().UTC()
	stats := &SeedStats{}

	states, err := s.store.ListResumable(ctx, opts.Limit)
	if err != nil {
		return stats, err
	}
	s.log.Info("resume found incomplete norms", "count", len(states))

	for i, st := range states {
		stage := st.EarliestNotOKStage()
		if stage == "" {
			continue
		}
		stats.NormasSeen++

		if err := s.store.ResetStagePending(ctx, st.IDNorma, stage, now); err != nil {
			return stats, err
		}
		if i%seedBatchSize == 0 {
			if err := s.waitForQueueCapacity(ctx); err != nil {
				return stats, err
			}
		}
		if err := s.enqueueFlow(ctx, st.IDNorma, queue.TriggerResume, stage, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *Seeder) enqueueFlow(ctx context.Context, idNorma, trigger, startFrom string, stats *SeedStats) error {
	res, err := s.broker.EnqueueNormaFlow(ctx, idNorma, trigger, startFrom)
	if err != nil {
		return err
	}
	if res.Enqueued {
		stats.FlowsEnqueued++
	} else {
		stats.FlowsDuplicate++
		s.log.Debug("flow already in flight", "id_norma", idNorma, "stage", startFrom)
	}
	return nil
}

// waitForQueueCapacity polls until every stage queue's depth is within
// its capacity bound. The wait is interruptible at 1s granularity.
func (s *Seeder) waitForQueueCapacity(ctx context.Context) error {
	bounds := map[string]int64{
		queue.QueueSync:  int64(capacityFactor * max(s.limits.Sync.Concurrency, 1)),
		queue.QueueBuild: int64(capacityFactor * max(s.limits.Build.Concurrency, 1)),
		queue.QueueIndex: int64(capacityFactor * max(s.limits.Index.Concurrency, 1)),
	}
	for {
		over := ""
		for q, bound := range bounds {
			counts, err := s.broker.QueueCounts(ctx, q)
			if err != nil {
				return err
			}
			if counts.Depth() > bound {
				over = q
				break
			}
		}
		if over == "" {
			return nil
		}
		s.log.Debug("waiting for queue capacity", "queue", over)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(capacityPoll):
		}
	}
}
