package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
)

// Handler processes one job. A returned error triggers the broker's
// retry/backoff handling.
type Handler func(ctx context.Context, job *Job) error

// Consumer pops jobs from one queue with bounded concurrency and an
// optional rate limit. Cancelling the run context starts a drain:
// no new jobs are accepted and in-flight jobs run to completion.
type Consumer struct {
	broker  *Broker
	queue   string
	limits  config.StageLimits
	handler Handler
	limiter *rateLimiter
	log     *slog.Logger
}

// NewConsumer builds a consumer for one queue.
func NewConsumer(broker *Broker, queue string, limits config.StageLimits, handler Handler, log *slog.Logger) *Consumer {
	if limits.Concurrency <= 0 {
		limits.Concurrency = 1
	}
	c := &Consumer{
		broker:  broker,
		queue:   queue,
		limits:  limits,
		handler: handler,
		log:     log.With("queue", queue),
	}
	if limits.RateLimitMax > 0 && limits.RateLimitDuration > 0 {
		c.limiter = &rateLimiter{max: limits.RateLimitMax, window: limits.RateLimitDuration}
	}
	return c
}

// Run consumes until ctx is cancelled, then drains.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started", "concurrency", c.limits.Concurrency)
	sem := make(chan struct{}, c.limits.Concurrency)
	var wg sync.WaitGroup

loop:
	for ctx.Err() == nil {
		if _, err := c.broker.promoteDelayed(ctx, c.queue, time.Now().UTC()); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error("promoting delayed jobs failed", "error", err)
		}

		if c.limiter != nil {
			if err := c.limiter.wait(ctx); err != nil {
				break
			}
		}

		id, err := c.broker.rdb.BRPopLPush(ctx, keyWaiting(c.queue), keyActive(c.queue), time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error("popping job failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Put the popped job back so another consumer can take it.
			bg := context.WithoutCancel(ctx)
			_ = c.broker.rdb.LRem(bg, keyActive(c.queue), 1, id).Err()
			_ = c.broker.push(bg, c.queue, id)
			break loop
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			// In-flight jobs finish during drain.
			c.process(context.WithoutCancel(ctx), id)
		}()
	}

	c.log.Info("consumer draining")
	wg.Wait()
	c.log.Info("consumer stopped")
	return nil
}

func (c *Consumer) process(ctx context.Context, id string) {
	job, err := c.broker.readJob(ctx, c.queue, id)
	if err != nil {
		c.log.Error("reading job body failed", "job", id, "error", err)
		return
	}
	if job == nil {
		_ = c.broker.rdb.LRem(ctx, keyActive(c.queue), 1, id).Err()
		c.log.Warn("job body missing, dropping", "job", id)
		return
	}

	start := time.Now()
	if err := c.safeHandle(ctx, job); err != nil {
		if rerr := c.broker.retryOrFail(ctx, job, err, time.Now().UTC()); rerr != nil {
			c.log.Error("recording job failure failed", "job", id, "error", rerr)
		}
		return
	}
	if err := c.broker.complete(ctx, job); err != nil {
		c.log.Error("completing job failed", "job", id, "error", err)
		return
	}
	c.log.Info("job done", "job", id, "took", time.Since(start))
}

func (c *Consumer) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeInternal, "handler panic: %v", r)
		}
	}()
	return c.handler(ctx, job)
}

// rateLimiter admits at most max calls per window.
type rateLimiter struct {
	max    int
	window time.Duration

	mu    sync.Mutex
	count int
	reset time.Time
}

func (l *rateLimiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if now.After(l.reset) {
			l.count = 0
			l.reset = now.Add(l.window)
		}
		if l.count < l.max {
			l.count++
			l.mu.Unlock()
			return nil
		}
		until := time.Until(l.reset)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}
}
