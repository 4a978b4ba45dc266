package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/normadata/boerag/internal/errors"
)

// Pipeline stages in execution order.
const (
	StageSync        = "sync"
	StageBuildUnits  = "build_units"
	StageBuildChunks = "build_chunks"
	StageIndex       = "index"
)

// Stages lists the four stages in order.
var Stages = []string{StageSync, StageBuildUnits, StageBuildChunks, StageIndex}

// Stage and rollup statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// stageColumn maps a stage to its column prefix. Stage names arrive
// from queue payloads; the map doubles as validation before they are
// interpolated into SQL.
var stageColumn = map[string]string{
	StageSync:        "sync",
	StageBuildUnits:  "build_units",
	StageBuildChunks: "build_chunks",
	StageIndex:       "index",
}

// StageIndexOf returns the position of a stage in the flow, or -1.
func StageIndexOf(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// StageState is the progress record of one stage for one norm.
type StageState struct {
	Status         string
	LastStartedAt  *time.Time
	LastFinishedAt *time.Time
	LastError      string
	Attempts       int
}

// SyncState is the per-norm pipeline progress rollup.
type SyncState struct {
	IDNorma          string
	Status           string
	Stages           map[string]StageState
	LastSeenAt       time.Time
	LastStartedAt    *time.Time
	LastFinishedAt   *time.Time
	LastErrorMessage string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// coerceStatus maps legacy status values to the current vocabulary.
func coerceStatus(s string) string {
	switch s {
	case "error", "failure":
		return StatusFailed
	case "done", "success":
		return StatusOK
	case StatusPending, StatusRunning, StatusOK, StatusFailed:
		return s
	default:
		return StatusPending
	}
}

// EnsureNormaPending creates the sync-state row if missing and touches
// last_seen_at. With forceResetStages every stage and the rollup are
// reset to pending.
func (s *Store) EnsureNormaPending(ctx context.Context, idNorma string, now time.Time, forceResetStages bool) error {
	_, err := s.exec(ctx, `
		INSERT INTO sync_state (id_norma, status, last_seen_at, created_at, updated_at)
		VALUES (?, 'pending', ?, ?, ?)
		ON CONFLICT (id_norma) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`,
		idNorma, fmtTime(now), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return err
	}
	if !forceResetStages {
		return nil
	}
	_, err = s.exec(ctx, `
		UPDATE sync_state SET
			status = 'pending',
			sync_status = 'pending', sync_last_error = '',
			build_units_status = 'pending', build_units_last_error = '',
			build_chunks_status = 'pending', build_chunks_last_error = '',
			index_status = 'pending', index_last_error = '',
			last_error_message = '',
			updated_at = ?
		WHERE id_norma = ?`,
		fmtTime(now), idNorma,
	)
	return err
}

// EnsureNormasPending applies EnsureNormaPending to a batch.
func (s *Store) EnsureNormasPending(ctx context.Context, idsNorma []string, now time.Time, forceResetStages bool) error {
	for _, id := range idsNorma {
		if err := s.EnsureNormaPending(ctx, id, now, forceResetStages); err != nil {
			return err
		}
	}
	return nil
}

// MarkStageStart sets the stage running, resets every downstream stage
// to pending, and increments the stage attempt counter. The sync stage
// also opens the whole-norm run (legacy start helper semantics).
func (s *Store) MarkStageStart(ctx context.Context, idNorma, stage string, now time.Time) error {
	col, ok := stageColumn[stage]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown stage %q", stage)
	}

	query := fmt.Sprintf(`
		UPDATE sync_state SET
			status = 'running',
			%s_status = 'running',
			%s_last_started_at = ?,
			%s_attempts = %s_attempts + 1,
			updated_at = ?`, col, col, col, col)
	args := []any{fmtTime(now), fmtTime(now)}

	for _, downstream := range Stages[StageIndexOf(stage)+1:] {
		dcol := stageColumn[downstream]
		query += fmt.Sprintf(", %s_status = 'pending', %s_last_error = ''", dcol, dcol)
	}
	if stage == StageSync {
		query += ", last_started_at = ?, last_finished_at = NULL, last_error_message = ''"
		args = append(args, fmtTime(now))
	}
	query += " WHERE id_norma = ?"
	args = append(args, idNorma)

	_, err := s.exec(ctx, query, args...)
	return err
}

// MarkStageSuccess sets the stage ok. The index stage completes the
// norm (rollup ok); any other stage resets its downstream stages to
// pending so they rerun against the fresh output.
func (s *Store) MarkStageSuccess(ctx context.Context, idNorma, stage string, now time.Time) error {
	col, ok := stageColumn[stage]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown stage %q", stage)
	}

	query := fmt.Sprintf(`
		UPDATE sync_state SET
			%s_status = 'ok',
			%s_last_finished_at = ?,
			%s_last_error = '',
			updated_at = ?`, col, col, col)
	args := []any{fmtTime(now), fmtTime(now)}

	if stage == StageIndex {
		query += ", status = 'ok', last_finished_at = ?, last_error_message = ''"
		args = append(args, fmtTime(now))
	} else {
		for _, downstream := range Stages[StageIndexOf(stage)+1:] {
			dcol := stageColumn[downstream]
			query += fmt.Sprintf(", %s_status = 'pending'", dcol)
		}
	}
	query += " WHERE id_norma = ?"
	args = append(args, idNorma)

	_, err := s.exec(ctx, query, args...)
	return err
}

// MarkStageFailure records the stage failure; a failed stage fails the
// rollup and the message is kept as the latest cause.
func (s *Store) MarkStageFailure(ctx context.Context, idNorma, stage, message string, now time.Time) error {
	col, ok := stageColumn[stage]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown stage %q", stage)
	}

	query := fmt.Sprintf(`
		UPDATE sync_state SET
			status = 'failed',
			%s_status = 'failed',
			%s_last_finished_at = ?,
			%s_last_error = ?,
			last_error_message = ?,
			updated_at = ?
		WHERE id_norma = ?`, col, col, col)

	_, err := s.exec(ctx, query, fmtTime(now), message, message, fmtTime(now), idNorma)
	return err
}

// ResetStagePending resets one stage (used by the resume seed before
// re-enqueueing a flow from that stage).
func (s *Store) ResetStagePending(ctx context.Context, idNorma, stage string, now time.Time) error {
	col, ok := stageColumn[stage]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown stage %q", stage)
	}
	query := fmt.Sprintf(
		"UPDATE sync_state SET %s_status = 'pending', %s_last_error = '', updated_at = ? WHERE id_norma = ?",
		col, col)
	_, err := s.exec(ctx, query, fmtTime(now), idNorma)
	return err
}

const syncStateColumns = `
	id_norma, status,
	sync_status, sync_last_started_at, sync_last_finished_at, sync_last_error, sync_attempts,
	build_units_status, build_units_last_started_at, build_units_last_finished_at, build_units_last_error, build_units_attempts,
	build_chunks_status, build_chunks_last_started_at, build_chunks_last_finished_at, build_chunks_last_error, build_chunks_attempts,
	index_status, index_last_started_at, index_last_finished_at, index_last_error, index_attempts,
	last_seen_at, last_started_at, last_finished_at, last_error_message, created_at, updated_at`

// GetSyncState returns the state or nil. Legacy statuses are coerced.
func (s *Store) GetSyncState(ctx context.Context, idNorma string) (*SyncState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+syncStateColumns+" FROM sync_state WHERE id_norma = ?", idNorma)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	states, err := scanSyncStates(rows)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return states[0], nil
}

// ListResumable returns norms whose pipeline has not completed: rollup
// in {pending, running, failed} or index stage not ok. Ordered by
// (last_seen_at asc, id_norma asc); limit 0 means no limit.
func (s *Store) ListResumable(ctx context.Context, limit int) ([]*SyncState, error) {
	query := `
		SELECT ` + syncStateColumns + ` FROM sync_state
		WHERE status IN ('pending', 'running', 'failed', 'error') OR index_status != 'ok'
		ORDER BY last_seen_at ASC, id_norma ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()
	return scanSyncStates(rows)
}

// StageCountsSince counts stage completions inside a rolling window,
// keyed "<stage>_<status>". Used by pipeline stats.
func (s *Store) StageCountsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	out := make(map[string]int)
	for _, stage := range Stages {
		col := stageColumn[stage]
		for _, status := range []string{StatusOK, StatusFailed} {
			var n int
			query := fmt.Sprintf(
				"SELECT COUNT(*) FROM sync_state WHERE %s_status = ? AND %s_last_finished_at >= ?", col, col)
			if err := s.db.QueryRowContext(ctx, query, status, fmtTime(since)).Scan(&n); err != nil {
				return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
			}
			out[stage+"_"+status] = n
		}
	}
	return out, nil
}

func scanSyncStates(rows *sql.Rows) ([]*SyncState, error) {
	var out []*SyncState
	for rows.Next() {
		var st SyncState
		st.Stages = make(map[string]StageState, 4)

		var stage [4]struct {
			status            string
			started, finished sql.NullString
			lastError         string
			attempts          int
		}
		var lastStarted, lastFinished sql.NullString
		var seen, created, updated string

		err := rows.Scan(
			&st.IDNorma, &st.Status,
			&stage[0].status, &stage[0].started, &stage[0].finished, &stage[0].lastError, &stage[0].attempts,
			&stage[1].status, &stage[1].started, &stage[1].finished, &stage[1].lastError, &stage[1].attempts,
			&stage[2].status, &stage[2].started, &stage[2].finished, &stage[2].lastError, &stage[2].attempts,
			&stage[3].status, &stage[3].started, &stage[3].finished, &stage[3].lastError, &stage[3].attempts,
			&seen, &lastStarted, &lastFinished, &st.LastErrorMessage, &created, &updated,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
		}

		st.Status = coerceStatus(st.Status)
		for i, name := range Stages {
			st.Stages[name] = StageState{
				Status:         coerceStatus(stage[i].status),
				LastStartedAt:  parseTimePtr(stage[i].started),
				LastFinishedAt: parseTimePtr(stage[i].finished),
				LastError:      stage[i].lastError,
				Attempts:       stage[i].attempts,
			}
		}
		st.LastSeenAt = parseTime(seen)
		st.LastStartedAt = parseTimePtr(lastStarted)
		st.LastFinishedAt = parseTimePtr(lastFinished)
		st.CreatedAt = parseTime(created)
		st.UpdatedAt = parseTime(updated)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// EarliestNotOKStage returns the first stage whose status is not ok,
// or "" when the whole flow is ok.
func (st *SyncState) EarliestNotOKStage() string {
	for _, stage := range Stages {
		if st.Stages[stage].Status != StatusOK {
			return stage
		}
	}
	return ""
}
