package cmd

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/pipeline"
	"github.com/normadata/boerag/internal/storage"
)

// syncReport aggregates per-norm sync stats for the JSON output.
type syncReport struct {
	NormasSynced         int `json:"normas_synced"`
	NormasFailed         int `json:"normas_failed"`
	BlocksSeen           int `json:"blocks_seen"`
	BlocksDirty          int `json:"blocks_dirty"`
	BlocksNotFound       int `json:"blocks_not_found"`
	VersionsInserted     int `json:"versions_inserted"`
	VersionsTouched      int `json:"versions_touched"`
	LegacyChunksInserted int `json:"legacy_chunks_inserted"`
}

func newSyncCmd() *cobra.Command {
	var (
		normaID       string
		all           bool
		from          string
		to            string
		maxNormas     int
		concurrency   int
		discoverFirst bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch index and block XML for norms, persisting versions",
		Long: `Sync fetches each norm's consolidated index, detects dirty blocks by
update timestamp, downloads their XML and persists content-addressed
versions with extracted text. Sync state is recorded per norm.

With --discover-first the catalog is refreshed from the source listing
(bounded by --from/--to) before syncing the discovered norms.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			ids, err := resolveSyncTargets(ctx, svc, normaID, all, from, to, maxNormas, discoverFirst)
			if err != nil {
				return err
			}

			report, err := runSync(ctx, svc, ids, concurrency)
			if printErr := printJSON(cmd.OutOrStdout(), report); printErr != nil {
				return printErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&normaID, "norma-id", "", "Sync a single norm")
	cmd.Flags().BoolVar(&all, "all", false, "Sync every norm in the catalog")
	cmd.Flags().StringVar(&from, "from", "", "Discover lower date bound (YYYYMMDD), implies --discover-first")
	cmd.Flags().StringVar(&to, "to", "", "Discover upper date bound (YYYYMMDD), implies --discover-first")
	cmd.Flags().IntVar(&maxNormas, "max-normas", 0, "Cap how many norms are synced (0 = no cap)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel norms (default: pipeline sync concurrency)")
	cmd.Flags().BoolVar(&discoverFirst, "discover-first", false, "Refresh the catalog before syncing")

	return cmd
}

func resolveSyncTargets(ctx context.Context, svc *services, normaID string, all bool, from, to string, maxNormas int, discoverFirst bool) ([]string, error) {
	if from != "" || to != "" {
		discoverFirst = true
	}
	if discoverFirst {
		if _, err := runDiscover(ctx, svc, from, to, "", maxNormas, 0); err != nil {
			return nil, err
		}
		if normaID == "" {
			all = true
		}
	}
	return svc.normSelection(ctx, normaID, all, maxNormas)
}

func runSync(ctx context.Context, svc *services, ids []string, concurrency int) (*syncReport, error) {
	if concurrency <= 0 {
		concurrency = svc.cfg.Pipeline.Sync.Concurrency
	}
	syncer := svc.newSyncer()

	var mu sync.Mutex
	report := &syncReport{}

	failed, err := forEachNorma(ctx, ids, concurrency, func(ctx context.Context, idNorma string) error {
		stats, err := runBuildStage(ctx, svc.store, storage.StageSync, idNorma, func(ctx context.Context) (*pipeline.SyncStats, error) {
			return syncer.SyncNorma(ctx, idNorma)
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		report.NormasSynced++
		report.BlocksSeen += stats.BlocksSeen
		report.BlocksDirty += stats.BlocksDirty
		report.BlocksNotFound += stats.BlocksNotFound
		report.VersionsInserted += stats.VersionsInserted
		report.VersionsTouched += stats.VersionsTouched
		report.LegacyChunksInserted += stats.LegacyChunksInserted
		return nil
	})
	report.NormasFailed = failed
	return report, err
}
