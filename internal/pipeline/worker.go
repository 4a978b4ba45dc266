package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/normadata/boerag/internal/chunker"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/indexer"
	"github.com/normadata/boerag/internal/queue"
	"github.com/normadata/boerag/internal/storage"
	"github.com/normadata/boerag/internal/unidades"
)

// Workers owns the stage implementations and exposes queue handlers.
type Workers struct {
	store   *storage.Store
	syncer  *Syncer
	units   *unidades.Builder
	chunks  *chunker.Engine
	indexer *indexer.Indexer
	seeder  *Seeder
	log     *slog.Logger
}

// NewWorkers wires the stage implementations together.
func NewWorkers(store *storage.Store, syncer *Syncer, units *unidades.Builder, chunks *chunker.Engine, ix *indexer.Indexer, seeder *Seeder, log *slog.Logger) *Workers {
	return &Workers{
		store:   store,
		syncer:  syncer,
		units:   units,
		chunks:  chunks,
		indexer: ix,
		seeder:  seeder,
		log:     log,
	}
}

// StageHandler returns the handler shared by the stage queues. It
// skips stages already ok, brackets the work with sync-state marks and
// lets errors flow back to the broker for redelivery.
func (w *Workers) StageHandler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		if job.IDNorma == "" {
			return errors.Newf(errors.ErrCodeInvalidInput, "stage job %s has no norm id", job.ID)
		}
		now := time.Now().UTC()

		st, err := w.store.GetSyncState(ctx, job.IDNorma)
		if err != nil {
			return err
		}
		if st != nil && st.Stages[job.Stage].Status == storage.StatusOK {
			w.log.Info("stage already ok, skipping", "id_norma", job.IDNorma, "stage", job.Stage)
			return nil
		}

		if err := w.store.MarkStageStart(ctx, job.IDNorma, job.Stage, now); err != nil {
			return err
		}
		if err := w.runStage(ctx, job.Stage, job.IDNorma); err != nil {
			if merr := w.store.MarkStageFailure(ctx, job.IDNorma, job.Stage, err.Error(), time.Now().UTC()); merr != nil {
				w.log.Error("recording stage failure failed", "id_norma", job.IDNorma, "stage", job.Stage, "error", merr)
			}
			return err
		}
		return w.store.MarkStageSuccess(ctx, job.IDNorma, job.Stage, time.Now().UTC())
	}
}

func (w *Workers) runStage(ctx context.Context, stage, idNorma string) error {
	switch stage {
	case storage.StageSync:
		_, err := w.syncer.SyncNorma(ctx, idNorma)
		return err
	case storage.StageBuildUnits:
		_, err := w.units.BuildNorma(ctx, idNorma)
		return err
	case storage.StageBuildChunks:
		_, err := w.chunks.BuildNorma(ctx, idNorma)
		return err
	case storage.StageIndex:
		_, err := w.indexer.Run(ctx, indexer.Options{OnlyNorma: idNorma})
		return err
	default:
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown stage %q", stage)
	}
}

// SeedHandler returns the orchestrator-queue handler running backfill
// and resume seeds.
func (w *Workers) SeedHandler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		switch job.Trigger {
		case queue.TriggerBackfill:
			_, err := w.seeder.Backfill(ctx, BackfillOptionsFromData(job.Data))
			return err
		case queue.TriggerResume:
			_, err := w.seeder.Resume(ctx, ResumeOptionsFromData(job.Data))
			return err
		default:
			return errors.Newf(errors.ErrCodeInvalidInput, "unknown seed trigger %q", job.Trigger)
		}
	}
}
