package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normadata/boerag/internal/chunker"
	"github.com/normadata/boerag/internal/indexer"
	"github.com/normadata/boerag/internal/pipeline"
	"github.com/normadata/boerag/internal/queue"
	"github.com/normadata/boerag/internal/unidades"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run and control the queue-driven ingestion pipeline",
		Long: `The pipeline moves each norm through sync, build_units, build_chunks
and index via Redis-backed queues. 'start' runs the stage workers;
'backfill' and 'resume' seed flows; 'stop' purges queued work; 'stats'
prints throughput and queue depths.`,
	}

	cmd.AddCommand(newPipelineStartCmd())
	cmd.AddCommand(newPipelineBackfillCmd())
	cmd.AddCommand(newPipelineResumeCmd())
	cmd.AddCommand(newPipelineStopCmd())
	cmd.AddCommand(newPipelineStatsCmd())
	return cmd
}

// buildWorkers wires every stage implementation over the shared
// services and the broker.
func buildWorkers(svc *services, broker *queue.Broker) (*pipeline.Workers, func() error, error) {
	vectors, closeVectors, err := svc.openVectors()
	if err != nil {
		return nil, nil, err
	}
	embedder, err := svc.newEmbedder()
	if err != nil {
		_ = closeVectors()
		return nil, nil, err
	}

	syncer := svc.newSyncer()
	units := unidades.NewBuilder(svc.store, svc.objects, svc.cfg.Storage.Extractor, rootLog)
	chunks := chunker.NewEngine(svc.store, svc.chunkConfig(), rootLog)
	ix := indexer.New(svc.store, vectors, embedder, svc.cfg.Indexer, rootLog)
	seeder := pipeline.NewSeeder(svc.store, broker, svc.client, svc.cfg.Pipeline, svc.cfg.Storage.NormalizeTerritory, rootLog)

	workers := pipeline.NewWorkers(svc.store, syncer, units, chunks, ix, seeder, rootLog)
	return workers, closeVectors, nil
}

func newPipelineStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the stage and orchestrator workers until interrupted",
		Long: `start consumes all four queues in one process. SIGINT or SIGTERM
stops intake and drains in-flight jobs before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			broker, err := svc.openBroker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			workers, closeVectors, err := buildWorkers(svc, broker)
			if err != nil {
				return err
			}
			defer func() { _ = closeVectors() }()

			stageHandler := workers.StageHandler()
			consumers := []*queue.Consumer{
				queue.NewConsumer(broker, queue.QueueSync, svc.cfg.Pipeline.Sync, stageHandler, rootLog),
				queue.NewConsumer(broker, queue.QueueBuild, svc.cfg.Pipeline.Build, stageHandler, rootLog),
				queue.NewConsumer(broker, queue.QueueIndex, svc.cfg.Pipeline.Index, stageHandler, rootLog),
				queue.NewConsumer(broker, queue.QueueOrchestrator, svc.cfg.Pipeline.Orchestrator, workers.SeedHandler(), rootLog),
			}

			g, gctx := errgroup.WithContext(ctx)
			for _, c := range consumers {
				g.Go(func() error { return c.Run(gctx) })
			}
			rootLog.Info("pipeline workers running")
			return g.Wait()
		},
	}
	return cmd
}

func newPipelineBackfillCmd() *cobra.Command {
	var (
		from       string
		to         string
		query      string
		limit      int
		pageSize   int
		forceReset bool
		inline     bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Discover norms and enqueue full flows for them",
		Long: `backfill discovers norms in the date window, upserts the catalog and
enqueues one sync-rooted flow per norm with queue backpressure. By
default the seed itself runs on the orchestrator queue; --inline runs
it in this process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			broker, err := svc.openBroker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			opts := pipeline.BackfillOptions{
				From:             from,
				To:               to,
				Query:            query,
				Limit:            limit,
				PageSize:         pageSize,
				ForceResetStages: forceReset,
			}
			if inline {
				seeder := pipeline.NewSeeder(svc.store, broker, svc.client, svc.cfg.Pipeline, svc.cfg.Storage.NormalizeTerritory, rootLog)
				stats, err := seeder.Backfill(ctx, opts)
				if printErr := printJSON(cmd.OutOrStdout(), stats); printErr != nil {
					return printErr
				}
				return err
			}
			res, err := broker.EnqueueSeed(ctx, queue.TriggerBackfill, opts.Data())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Lower publication date bound (YYYYMMDD)")
	cmd.Flags().StringVar(&to, "to", "", "Upper publication date bound (YYYYMMDD)")
	cmd.Flags().StringVar(&query, "query", "", "Free-text query passed to the source API")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many norms (0 = no limit)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Discovery page size (default 50)")
	cmd.Flags().BoolVar(&forceReset, "force-reset", false, "Reset all stage states to pending before enqueueing")
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the seed in this process instead of the orchestrator")

	return cmd
}

func newPipelineResumeCmd() *cobra.Command {
	var (
		limit  int
		inline bool
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Re-enqueue incomplete norms at their earliest pending stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			broker, err := svc.openBroker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			opts := pipeline.ResumeOptions{Limit: limit}
			if inline {
				seeder := pipeline.NewSeeder(svc.store, broker, svc.client, svc.cfg.Pipeline, svc.cfg.Storage.NormalizeTerritory, rootLog)
				stats, err := seeder.Resume(ctx, opts)
				if printErr := printJSON(cmd.OutOrStdout(), stats); printErr != nil {
					return printErr
				}
				return err
			}
			res, err := broker.EnqueueSeed(ctx, queue.TriggerResume, opts.Data())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Cap how many norms are resumed (0 = all)")
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the seed in this process instead of the orchestrator")

	return cmd
}

func newPipelineStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Purge waiting and delayed jobs from every queue",
		Long: `stop removes queued and scheduled jobs and releases their dedup
claims. Jobs already being processed by a worker finish normally.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			broker, err := svc.openBroker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			purged := make(map[string]int64, 4)
			for _, q := range []string{queue.QueueSync, queue.QueueBuild, queue.QueueIndex, queue.QueueOrchestrator} {
				n, err := broker.Purge(ctx, q)
				if err != nil {
					return err
				}
				purged[q] = n
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"purged": purged})
		},
	}
	return cmd
}

func newPipelineStatsCmd() *cobra.Command {
	var windowMinutes int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print stage throughput and queue depths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			broker, err := svc.openBroker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			stats, err := pipeline.Snapshot(ctx, svc.store, broker, windowMinutes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().IntVar(&windowMinutes, "window-minutes", 60, "Rolling window for stage counts")
	return cmd
}
