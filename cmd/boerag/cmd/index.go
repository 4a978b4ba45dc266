package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/indexer"
)

func newIndexCmd() *cobra.Command {
	var (
		batchSize        int
		limit            int
		onlyNorma        string
		embedConcurrency int
		noCleanup        bool
		scrollBatchSize  int
		deleteBatchSize  int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed semantic chunks and upsert them into the vector store",
		Long: `index streams the semantic chunks into the vector collection. Point
ids are deterministic, unchanged chunks are skipped by payload
comparison and, on full runs, points without a backing chunk are
garbage-collected. --limit disables cleanup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			cfg := svc.cfg.Indexer
			if batchSize > 0 {
				cfg.BatchSize = batchSize
			}
			if embedConcurrency > 0 {
				cfg.EmbedConcurrency = embedConcurrency
			}
			if scrollBatchSize > 0 {
				cfg.CleanupScrollBatchSize = scrollBatchSize
			}
			if deleteBatchSize > 0 {
				cfg.CleanupDeleteBatchSize = deleteBatchSize
			}

			vectors, closeVectors, err := svc.openVectors()
			if err != nil {
				return err
			}
			defer func() { _ = closeVectors() }()

			embedder, err := svc.newEmbedder()
			if err != nil {
				return err
			}

			ix := indexer.New(svc.store, vectors, embedder, cfg, rootLog)
			stats, err := ix.Run(ctx, indexer.Options{
				OnlyNorma:   onlyNorma,
				Limit:       limit,
				SkipCleanup: noCleanup,
			})
			if stats != nil {
				if printErr := printJSON(cmd.OutOrStdout(), stats); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Chunks per upsert batch (default: config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Cap how many chunks are processed, disables cleanup (0 = all)")
	cmd.Flags().StringVar(&onlyNorma, "only-norma", "", "Index a single norm's chunks")
	cmd.Flags().IntVar(&embedConcurrency, "embed-concurrency", 0, "Parallel embedding calls (default: config)")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "Skip the orphan sweep")
	cmd.Flags().IntVar(&scrollBatchSize, "cleanup-scroll-batch-size", 0, "Points per cleanup scroll page (default: config)")
	cmd.Flags().IntVar(&deleteBatchSize, "cleanup-delete-batch-size", 0, "Points per cleanup delete batch (default: config)")

	return cmd
}
