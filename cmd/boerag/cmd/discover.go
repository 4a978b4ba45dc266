package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/boe"
	"github.com/normadata/boerag/internal/storage"
)

// discoverStats is the JSON report printed by the discover command.
type discoverStats struct {
	Pages           int `json:"pages"`
	NormasSeen      int `json:"normas_seen"`
	NormasInserted  int `json:"normas_inserted"`
	NormasUpdated   int `json:"normas_updated"`
	NormasUntouched int `json:"normas_untouched"`
}

func newDiscoverCmd() *cobra.Command {
	var (
		from      string
		to        string
		limit     int
		batchSize int
		query     string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover norms from the source API and upsert the catalog",
		Long: `Discover pages through the source API's legislation listing and upserts
one norma row per item. Dates are YYYYMMDD. No stage work is enqueued;
use 'sync' or 'pipeline backfill' for that.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			stats, err := runDiscover(cmd.Context(), svc, from, to, query, limit, batchSize)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Lower publication date bound (YYYYMMDD)")
	cmd.Flags().StringVar(&to, "to", "", "Upper publication date bound (YYYYMMDD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many norms (0 = no limit)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Page size for the listing requests")
	cmd.Flags().StringVar(&query, "query", "", "Free-text query passed to the source API")

	return cmd
}

func runDiscover(ctx context.Context, svc *services, from, to, query string, limit, pageSize int) (*discoverStats, error) {
	now := time.Now().UTC()
	if pageSize <= 0 {
		pageSize = 50
	}
	if err := svc.store.EnsureEstado(ctx, now); err != nil {
		return nil, err
	}

	stats := &discoverStats{}
	seen := make(map[string]bool)
	for offset := 0; ; offset += pageSize {
		page, err := svc.client.Discover(ctx, boe.DiscoverQuery{
			From:   from,
			To:     to,
			Offset: offset,
			Limit:  pageSize,
			Query:  query,
		})
		if err != nil {
			return stats, err
		}
		stats.Pages++

		for _, item := range page.Items {
			if item.Identificador == "" || seen[item.Identificador] {
				continue
			}
			seen[item.Identificador] = true
			stats.NormasSeen++

			outcome, err := svc.store.UpsertNormaFromDiscover(ctx, item.ToNorma(svc.cfg.Storage.NormalizeTerritory), now)
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
			if limit > 0 && stats.NormasSeen >= limit {
				return stats, nil
			}
		}
		if len(page.Items) < pageSize {
			return stats, nil
		}
	}
}
