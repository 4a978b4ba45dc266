// Package queue is the redis-backed job broker behind the pipeline.
// Each queue keeps a waiting list, an active list and a delayed zset;
// job bodies live in plain keys and a SETNX dedup key gives at-most-one
// in-flight job per job id.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/storage"
)

// Queue names. Build units and build chunks share one queue.
const (
	QueueSync         = "q-sync"
	QueueBuild        = "q-build"
	QueueIndex        = "q-index"
	QueueOrchestrator = "q-orchestrator"
)

// Triggers carried by stage jobs.
const (
	TriggerBackfill = "backfill"
	TriggerResume   = "resume"
)

const (
	defaultAttempts      = 5
	orchestratorAttempts = 3
	defaultBackoff       = time.Second

	keyPrefix = "boerag:"
)

// QueueForStage maps a pipeline stage to its queue.
func QueueForStage(stage string) string {
	switch stage {
	case storage.StageSync:
		return QueueSync
	case storage.StageBuildUnits, storage.StageBuildChunks:
		return QueueBuild
	case storage.StageIndex:
		return QueueIndex
	default:
		return QueueOrchestrator
	}
}

// StageJobID is the deterministic id giving at-most-one in-flight job
// per (stage, norm).
func StageJobID(stage, idNorma string) string {
	return stage + "__" + idNorma
}

// Job is one unit of queued work. Stage jobs carry IDNorma and the
// remaining stages of their norm flow; seed jobs carry Data.
type Job struct {
	ID           string            `json:"id"`
	Queue        string            `json:"queue"`
	Stage        string            `json:"stage"`
	IDNorma      string            `json:"idNorma,omitempty"`
	Trigger      string            `json:"trigger,omitempty"`
	Next         []string          `json:"next,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	AttemptsMade int               `json:"attemptsMade"`
	MaxAttempts  int               `json:"maxAttempts"`
	BackoffMs    int64             `json:"backoffMs"`
	LastError    string            `json:"lastError,omitempty"`
}

// EnqueueResult reports whether a job (or flow) was accepted.
type EnqueueResult struct {
	Enqueued bool   `json:"enqueued"`
	JobID    string `json:"jobId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Counts is a point-in-time queue depth snapshot.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// Depth is the backpressure measure seeds compare against capacity.
func (c Counts) Depth() int64 {
	return c.Waiting + c.Active + c.Delayed
}

// Broker talks to redis on behalf of producers and consumers.
type Broker struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewBroker connects to the configured redis instance.
func NewBroker(cfg config.RedisConfig, log *slog.Logger) *Broker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Broker{rdb: rdb, log: log}
}

// Close releases the redis connection.
func (b *Broker) Close() error {
	return b.rdb.Close()
}

// Ping verifies the connection.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeQueue, err)
	}
	return nil
}

func keyJob(queue, id string) string   { return keyPrefix + queue + ":job:" + id }
func keyDedup(queue, id string) string { return keyPrefix + queue + ":dedup:" + id }
func keyWaiting(queue string) string   { return keyPrefix + queue + ":waiting" }
func keyActive(queue string) string    { return keyPrefix + queue + ":active" }
func keyDelayed(queue string) string   { return keyPrefix + queue + ":delayed" }
func keyFailed(queue string) string    { return keyPrefix + queue + ":failed" }

// EnqueueSeed puts a backfill or resume seed on the orchestrator queue.
// Seed ids are unique per submission; seeds never dedup against each
// other.
func (b *Broker) EnqueueSeed(ctx context.Context, trigger string, data map[string]string) (EnqueueResult, error) {
	job := &Job{
		ID:          "seed__" + trigger + "__" + uuid.NewString(),
		Queue:       QueueOrchestrator,
		Stage:       "seed",
		Trigger:     trigger,
		Data:        data,
		MaxAttempts: orchestratorAttempts,
		BackoffMs:   defaultBackoff.Milliseconds(),
	}
	return b.enqueue(ctx, job)
}

// EnqueueNormaFlow enqueues the stage chain for one norm starting at
// startFrom. Only the first stage goes on its waiting list; each later
// stage is parked and promoted when its predecessor completes. A
// duplicate first stage reports {enqueued:false, reason:"duplicate"}.
func (b *Broker) EnqueueNormaFlow(ctx context.Context, idNorma, trigger, startFrom string) (EnqueueResult, error) {
	pos := storage.StageIndexOf(startFrom)
	if pos < 0 {
		return EnqueueResult{}, errors.Newf(errors.ErrCodeInvalidInput, "unknown stage %q", startFrom)
	}
	chain := storage.Stages[pos:]

	first := chain[0]
	ok, err := b.claimDedup(ctx, QueueForStage(first), StageJobID(first, idNorma))
	if err != nil {
		return EnqueueResult{}, err
	}
	if !ok {
		return EnqueueResult{Enqueued: false, JobID: StageJobID(first, idNorma), Reason: "duplicate"}, nil
	}

	for i, stage := range chain {
		job := &Job{
			ID:          StageJobID(stage, idNorma),
			Queue:       QueueForStage(stage),
			Stage:       stage,
			IDNorma:     idNorma,
			Trigger:     trigger,
			Next:        chain[i+1:],
			MaxAttempts: defaultAttempts,
			BackoffMs:   defaultBackoff.Milliseconds(),
		}
		if i > 0 {
			// Parked: claim dedup best-effort, write the body, do not
			// push. An already-claimed later stage keeps its existing
			// body and will run within its own flow.
			claimed, err := b.claimDedup(ctx, job.Queue, job.ID)
			if err != nil {
				return EnqueueResult{}, err
			}
			if !claimed {
				continue
			}
			if err := b.writeJob(ctx, job); err != nil {
				return EnqueueResult{}, err
			}
			continue
		}
		if err := b.writeJob(ctx, job); err != nil {
			return EnqueueResult{}, err
		}
		if err := b.push(ctx, job.Queue, job.ID); err != nil {
			return EnqueueResult{}, err
		}
	}
	return EnqueueResult{Enqueued: true, JobID: StageJobID(first, idNorma)}, nil
}

func (b *Broker) enqueue(ctx context.Context, job *Job) (EnqueueResult, error) {
	ok, err := b.claimDedup(ctx, job.Queue, job.ID)
	if err != nil {
		return EnqueueResult{}, err
	}
	if !ok {
		return EnqueueResult{Enqueued: false, JobID: job.ID, Reason: "duplicate"}, nil
	}
	if err := b.writeJob(ctx, job); err != nil {
		return EnqueueResult{}, err
	}
	if err := b.push(ctx, job.Queue, job.ID); err != nil {
		return EnqueueResult{}, err
	}
	return EnqueueResult{Enqueued: true, JobID: job.ID}, nil
}

func (b *Broker) claimDedup(ctx context.Context, queue, id string) (bool, error) {
	ok, err := b.rdb.SetNX(ctx, keyDedup(queue, id), "1", 0).Result()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeQueue, err)
	}
	return ok, nil
}

func (b *Broker) writeJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := b.rdb.Set(ctx, keyJob(job.Queue, job.ID), raw, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeQueue, err)
	}
	return nil
}

func (b *Broker) push(ctx context.Context, queue, id string) error {
	if err := b.rdb.LPush(ctx, keyWaiting(queue), id).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeQueue, err)
	}
	return nil
}

func (b *Broker) readJob(ctx context.Context, queue, id string) (*Job, error) {
	raw, err := b.rdb.Get(ctx, keyJob(queue, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueue, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return &job, nil
}

// QueueCounts snapshots one queue's depth.
func (b *Broker) QueueCounts(ctx context.Context, queue string) (Counts, error) {
	pipe := b.rdb.Pipeline()
	waiting := pipe.LLen(ctx, keyWaiting(queue))
	active := pipe.LLen(ctx, keyActive(queue))
	delayed := pipe.ZCard(ctx, keyDelayed(queue))
	failed := pipe.LLen(ctx, keyFailed(queue))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Counts{}, errors.Wrap(errors.ErrCodeQueue, err)
	}
	return Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// HasJob reports whether a job body exists, parked or queued.
func (b *Broker) HasJob(ctx context.Context, queue, id string) (bool, error) {
	n, err := b.rdb.Exists(ctx, keyJob(queue, id)).Result()
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeQueue, err)
	}
	return n > 0, nil
}

// promoteNext pushes the parked successor of a completed stage job.
func (b *Broker) promoteNext(ctx context.Context, job *Job) error {
	if len(job.Next) == 0 {
		return nil
	}
	stage := job.Next[0]
	queue := QueueForStage(stage)
	id := StageJobID(stage, job.IDNorma)
	next, err := b.readJob(ctx, queue, id)
	if err != nil {
		return err
	}
	if next == nil {
		// The parked body belongs to another flow that already ran it.
		return nil
	}
	return b.push(ctx, queue, id)
}

// complete removes a finished job and releases its dedup claim, then
// promotes its successor.
func (b *Broker) complete(ctx context.Context, job *Job) error {
	pipe := b.rdb.Pipeline()
	pipe.LRem(ctx, keyActive(job.Queue), 1, job.ID)
	pipe.Del(ctx, keyJob(job.Queue, job.ID))
	pipe.Del(ctx, keyDedup(job.Queue, job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeQueue, err)
	}
	return b.promoteNext(ctx, job)
}

// retryOrFail handles a failed attempt: either schedules a delayed
// retry with exponential backoff or parks the job on the failed list.
func (b *Broker) retryOrFail(ctx context.Context, job *Job, cause error, now time.Time) error {
	job.AttemptsMade++
	job.LastError = cause.Error()

	if err := b.rdb.LRem(ctx, keyActive(job.Queue), 1, job.ID).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeQueue, err)
	}
	if err := b.writeJob(ctx, job); err != nil {
		return err
	}

	if job.AttemptsMade >= job.MaxAttempts {
		b.log.Error("job exhausted its attempts",
			"queue", job.Queue, "job", job.ID, "attempts", job.AttemptsMade, "error", cause)
		pipe := b.rdb.Pipeline()
		pipe.LPush(ctx, keyFailed(job.Queue), job.ID)
		pipe.Del(ctx, keyDedup(job.Queue, job.ID))
		if _, err := pipe.Exec(ctx); err != nil {
			return errors.Wrap(errors.ErrCodeQueue, err)
		}
		return nil
	}

	delay := time.Duration(job.BackoffMs) * time.Millisecond
	for i := 1; i < job.AttemptsMade; i++ {
		delay *= 2
	}
	readyAt := now.Add(delay)
	err := b.rdb.ZAdd(ctx, keyDelayed(job.Queue), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: job.ID,
	}).Err()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueue, err)
	}
	b.log.Warn("job scheduled for retry",
		"queue", job.Queue, "job", job.ID, "attempt", job.AttemptsMade, "delay", delay, "error", cause)
	return nil
}

// Purge drops a queue's waiting and delayed jobs, releasing their
// bodies and dedup claims. In-flight jobs on the active list finish
// normally. Returns the number of jobs removed.
func (b *Broker) Purge(ctx context.Context, queue string) (int64, error) {
	waiting, err := b.rdb.LRange(ctx, keyWaiting(queue), 0, -1).Result()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueue, err)
	}
	delayed, err := b.rdb.ZRange(ctx, keyDelayed(queue), 0, -1).Result()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueue, err)
	}

	var purged int64
	pipe := b.rdb.Pipeline()
	for _, id := range append(waiting, delayed...) {
		pipe.Del(ctx, keyJob(queue, id))
		pipe.Del(ctx, keyDedup(queue, id))
		purged++
	}
	pipe.Del(ctx, keyWaiting(queue))
	pipe.Del(ctx, keyDelayed(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueue, err)
	}
	if purged > 0 {
		b.log.Info("queue purged", "queue", queue, "jobs", purged)
	}
	return purged, nil
}

// promoteDelayed moves due delayed jobs back onto the waiting list.
func (b *Broker) promoteDelayed(ctx context.Context, queue string, now time.Time) (int, error) {
	due, err := b.rdb.ZRangeByScore(ctx, keyDelayed(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueue, err)
	}
	promoted := 0
	for _, id := range due {
		removed, err := b.rdb.ZRem(ctx, keyDelayed(queue), id).Result()
		if err != nil {
			return promoted, errors.Wrap(errors.ErrCodeQueue, err)
		}
		if removed == 0 {
			continue
		}
		if err := b.push(ctx, queue, id); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}
