package cmd

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/chunker"
	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/unidades"
)

// buildFlags is the flag set shared by the build commands.
type buildFlags struct {
	normaID     string
	all         bool
	maxNormas   int
	concurrency int
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.normaID, "only-norma", "", "Build a single norm")
	cmd.Flags().BoolVar(&f.all, "all", false, "Build every norm in the catalog")
	cmd.Flags().IntVar(&f.maxNormas, "max-normas", 0, "Cap how many norms are built (0 = no cap)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Parallel norms (default: pipeline build concurrency)")
}

func (f *buildFlags) effectiveConcurrency(cfg *config.Config) int {
	if f.concurrency > 0 {
		return f.concurrency
	}
	return cfg.Pipeline.Build.Concurrency
}

// unitsReport aggregates unit-build stats across norms.
type unitsReport struct {
	NormasBuilt  int   `json:"normas_built"`
	NormasFailed int   `json:"normas_failed"`
	UnitsKept    int   `json:"units_kept"`
	UnitsDropped int   `json:"units_dropped"`
	HeadingOnly  int   `json:"heading_only"`
	Lineages     int   `json:"lineages"`
	HastaUpdated int64 `json:"hasta_updated"`
	UnitsDeleted int64 `json:"units_deleted"`
	UnitsReset   int64 `json:"units_reset,omitempty"`
	LegacyReset  int64 `json:"legacy_chunks_reset,omitempty"`
}

// chunksReport aggregates chunk-build stats across norms.
type chunksReport struct {
	NormasBuilt        int   `json:"normas_built"`
	NormasFailed       int   `json:"normas_failed"`
	UnitsProcessed     int   `json:"units_processed"`
	UnitsSkipped       int   `json:"units_skipped"`
	ChunksInserted     int   `json:"chunks_inserted"`
	ChunksExisting     int   `json:"chunks_existing"`
	ChunksDroppedNoise int   `json:"chunks_dropped_noise"`
	StaleChunksDeleted int64 `json:"stale_chunks_deleted"`
}

func newBuildUnidadesCmd() *cobra.Command {
	var (
		flags      buildFlags
		reset      bool
		noConfirm  bool
		dropLegacy bool
	)

	cmd := &cobra.Command{
		Use:   "build-unidades",
		Short: "Derive semantic units from synced index and version data",
		Long: `build-unidades walks each norm's latest index snapshot, anchors the
article and disposition roots, assembles versioned unit texts and
refreshes lineage latest flags and validity intervals.

--reset deletes the norm's existing units and semantic chunks first;
--drop-legacy also drops its v1 chunks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			ids, err := svc.normSelection(ctx, flags.normaID, flags.all, flags.maxNormas)
			if err != nil {
				return err
			}
			if reset && !dryRun && !noConfirm {
				if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete existing units and chunks before rebuilding?") {
					return nil
				}
			}

			report, err := runBuildUnidades(ctx, svc, ids, flags.effectiveConcurrency(svc.cfg), reset, dropLegacy)
			if printErr := printJSON(cmd.OutOrStdout(), report); printErr != nil {
				return printErr
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete existing units and chunks before building")
	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "Skip the reset confirmation prompt")
	cmd.Flags().BoolVar(&dropLegacy, "drop-legacy", false, "With --reset, also drop v1 chunks")

	return cmd
}

func runBuildUnidades(ctx context.Context, svc *services, ids []string, concurrency int, reset, dropLegacy bool) (*unitsReport, error) {
	builder := unidades.NewBuilder(svc.store, svc.objects, svc.cfg.Storage.Extractor, rootLog)

	var mu sync.Mutex
	report := &unitsReport{}

	failed, err := forEachNorma(ctx, ids, concurrency, func(ctx context.Context, idNorma string) error {
		if reset {
			unitsReset, legacyReset, err := resetNorma(ctx, svc.store, idNorma, dropLegacy)
			if err != nil {
				return err
			}
			mu.Lock()
			report.UnitsReset += unitsReset
			report.LegacyReset += legacyReset
			mu.Unlock()
		}

		stats, err := runBuildStage(ctx, svc.store, storage.StageBuildUnits, idNorma, func(ctx context.Context) (*unidades.Stats, error) {
			return builder.BuildNorma(ctx, idNorma)
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		report.NormasBuilt++
		report.UnitsKept += stats.UnitsKept
		report.UnitsDropped += stats.UnitsDropped
		report.HeadingOnly += stats.HeadingOnly
		report.Lineages += stats.Lineages
		report.HastaUpdated += stats.HastaUpdated
		report.UnitsDeleted += stats.UnitsDeleted
		return nil
	})
	report.NormasFailed = failed
	return report, err
}

// resetNorma clears derived data so the build starts from the synced
// versions alone.
func resetNorma(ctx context.Context, store *storage.Store, idNorma string, dropLegacy bool) (int64, int64, error) {
	if _, err := store.DeleteChunksForNorma(ctx, idNorma); err != nil {
		return 0, 0, err
	}
	unitsReset, err := store.DeleteUnidadesNotIn(ctx, idNorma, nil)
	if err != nil {
		return 0, 0, err
	}
	var legacyReset int64
	if dropLegacy {
		legacyReset, err = store.DeleteLegacyChunksForNorma(ctx, idNorma)
		if err != nil {
			return 0, 0, err
		}
	}
	return unitsReset, legacyReset, nil
}

func newBuildChunksCmd() *cobra.Command {
	var (
		flags     buildFlags
		method    string
		chunkSize int
		overlap   int
	)

	cmd := &cobra.Command{
		Use:   "build-chunks",
		Short: "Chunk the latest retrievable units for indexing",
		Long: `build-chunks splits each latest, retrieval-eligible unit into semantic
chunks with deterministic ids. Re-running over unchanged inputs inserts
nothing and deletes nothing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			ids, err := svc.normSelection(ctx, flags.normaID, flags.all, flags.maxNormas)
			if err != nil {
				return err
			}

			report, err := runBuildChunks(ctx, svc, ids, flags.effectiveConcurrency(svc.cfg), method, chunkSize, overlap)
			if printErr := printJSON(cmd.OutOrStdout(), report); printErr != nil {
				return printErr
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&method, "method", "", "Chunk method: recursive or simple (default: config)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in characters (default: config)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Chunk overlap in characters (default: config)")

	return cmd
}

func runBuildChunks(ctx context.Context, svc *services, ids []string, concurrency int, method string, chunkSize, overlap int) (*chunksReport, error) {
	cfg := svc.chunkConfig()
	if method != "" {
		cfg.Method = config.ChunkMethod(method)
	}
	if chunkSize > 0 {
		cfg.Size = chunkSize
	}
	if overlap > 0 {
		cfg.Overlap = overlap
	}
	engine := chunker.NewEngine(svc.store, cfg, rootLog)

	var mu sync.Mutex
	report := &chunksReport{}

	failed, err := forEachNorma(ctx, ids, concurrency, func(ctx context.Context, idNorma string) error {
		stats, err := runBuildStage(ctx, svc.store, storage.StageBuildChunks, idNorma, func(ctx context.Context) (*chunker.Stats, error) {
			return engine.BuildNorma(ctx, idNorma)
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		report.NormasBuilt++
		report.UnitsProcessed += stats.UnitsProcessed
		report.UnitsSkipped += stats.UnitsSkipped
		report.ChunksInserted += stats.ChunksInserted
		report.ChunksExisting += stats.ChunksExisting
		report.ChunksDroppedNoise += stats.ChunksDroppedNoise
		report.StaleChunksDeleted += stats.StaleChunksDeleted
		return nil
	})
	report.NormasFailed = failed
	return report, err
}

func newBuildAllCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build-all",
		Short: "Run build-unidades then build-chunks over the same norms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			ids, err := svc.normSelection(ctx, flags.normaID, flags.all, flags.maxNormas)
			if err != nil {
				return err
			}
			concurrency := flags.effectiveConcurrency(svc.cfg)

			units, err := runBuildUnidades(ctx, svc, ids, concurrency, false, false)
			if printErr := printJSON(cmd.OutOrStdout(), units); printErr != nil {
				return printErr
			}
			if err != nil {
				return err
			}

			chunks, err := runBuildChunks(ctx, svc, ids, concurrency, "", 0, 0)
			if printErr := printJSON(cmd.OutOrStdout(), chunks); printErr != nil {
				return printErr
			}
			return err
		},
	}

	flags.register(cmd)
	return cmd
}

// runBuildStage brackets one norm's build step with its stage state.
func runBuildStage[S any](ctx context.Context, store *storage.Store, stage, idNorma string, fn func(ctx context.Context) (S, error)) (S, error) {
	var zero S
	now := time.Now().UTC()
	if err := store.EnsureNormaPending(ctx, idNorma, now, false); err != nil {
		return zero, err
	}
	if err := store.MarkStageStart(ctx, idNorma, stage, now); err != nil {
		return zero, err
	}
	stats, err := fn(ctx)
	if err != nil {
		if markErr := store.MarkStageFailure(ctx, idNorma, stage, err.Error(), time.Now().UTC()); markErr != nil {
			rootLog.Error("failed to record stage failure", "id_norma", idNorma, "stage", stage, "error", markErr)
		}
		return zero, err
	}
	return stats, store.MarkStageSuccess(ctx, idNorma, stage, time.Now().UTC())
}
