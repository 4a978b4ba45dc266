package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/storage"
)

// ragCheckReport is the per-norm diagnostic snapshot.
type ragCheckReport struct {
	IDNorma        string         `json:"id_norma"`
	Titulo         string         `json:"titulo,omitempty"`
	Territorio     string         `json:"territorio,omitempty"`
	Indices        int            `json:"indices"`
	Bloques        int            `json:"bloques"`
	Versions       int            `json:"versions"`
	Unidades       int            `json:"unidades"`
	UnidadesByTipo map[string]int `json:"unidades_by_tipo"`
	UnidadesLatest int            `json:"unidades_latest"`
	SkipRetrieval  int            `json:"skip_retrieval"`
	HeadingOnly    int            `json:"heading_only"`
	Chunks         int            `json:"chunks"`
	SyncStatus     string         `json:"sync_status,omitempty"`
	PendingStage   string         `json:"pending_stage,omitempty"`
}

func newRagCheckCmd() *cobra.Command {
	var normaID string

	cmd := &cobra.Command{
		Use:   "rag-check",
		Short: "Print per-norm pipeline diagnostics as JSON",
		Long: `rag-check reports what the pipeline has materialized for one norm:
index snapshots, blocks, versions, unit counts by type, retrieval
eligibility and semantic chunks, plus the current sync state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if normaID == "" {
				return errors.Newf(errors.ErrCodeInvalidInput, "--norma-id is required")
			}
			svc, closeSvc, err := openServices()
			if err != nil {
				return err
			}
			defer closeSvc()

			report, err := runRagCheck(cmd.Context(), svc.store, normaID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&normaID, "norma-id", "", "Norm to inspect")
	return cmd
}

func runRagCheck(ctx context.Context, store *storage.Store, idNorma string) (*ragCheckReport, error) {
	report := &ragCheckReport{IDNorma: idNorma, UnidadesByTipo: map[string]int{}}

	norma, err := store.GetNorma(ctx, idNorma)
	if err != nil {
		return nil, err
	}
	if norma == nil {
		return nil, errors.Newf(errors.ErrCodeStoreNotFound, "norma %s not found", idNorma)
	}
	report.Titulo = norma.Titulo
	report.Territorio = norma.TerritorioCodigo

	if report.Indices, err = store.CountIndicesForNorma(ctx, idNorma); err != nil {
		return nil, err
	}
	if report.Bloques, err = store.CountBloquesForNorma(ctx, idNorma); err != nil {
		return nil, err
	}
	if report.Versions, err = store.CountVersionsForNorma(ctx, idNorma); err != nil {
		return nil, err
	}

	units, err := store.ListUnidadesForNorma(ctx, idNorma)
	if err != nil {
		return nil, err
	}
	report.Unidades = len(units)
	for _, u := range units {
		report.UnidadesByTipo[u.UnidadTipo]++
		if u.IsLatest {
			report.UnidadesLatest++
		}
		if u.Quality.SkipRetrieval {
			report.SkipRetrieval++
		}
		if u.Quality.IsHeadingOnly {
			report.HeadingOnly++
		}
	}

	chunks, err := store.ListChunksSemanticos(ctx, idNorma, 0)
	if err != nil {
		return nil, err
	}
	report.Chunks = len(chunks)

	st, err := store.GetSyncState(ctx, idNorma)
	if err != nil {
		return nil, err
	}
	if st != nil {
		report.SyncStatus = st.Status
		report.PendingStage = st.EarliestNotOKStage()
	}
	return report, nil
}
