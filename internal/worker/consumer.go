package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/retry"
)

// Consumer pulls tasks off the durable queue and runs the pipeline. When a
// run returns an error the job is already marked failed; the consumer
// re-enqueues the task with exponential backoff up to the retry bound, and
// a later successful attempt re-opens the same job through to completion.
type Consumer struct {
	q          *queue.RedisQ
	pipeline   *Pipeline
	maxRetries int
	backoff    func(int) time.Duration
	log        *zap.Logger
}

func NewConsumer(q *queue.RedisQ, p *Pipeline, maxRetries int, backoffBase time.Duration, log *zap.Logger) *Consumer {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Consumer{
		q:          q,
		pipeline:   p,
		maxRetries: maxRetries,
		backoff:    retry.Exponential(backoffBase),
		log:        log,
	}
}

// Run consumes until the context ends.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t, err := c.q.Dequeue(ctx, 5*time.Second)
		if errors.Is(err, queue.ErrNoTask) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(ctx, t)
	}
}

func (c *Consumer) handle(ctx context.Context, t queue.Task) {
	err := c.pipeline.Run(ctx, t)
	if err == nil {
		return
	}
	if t.Attempt >= c.maxRetries {
		c.log.Error("task abandoned after retries",
			zap.String("job_id", t.JobID), zap.Int("attempt", t.Attempt), zap.Error(err))
		return
	}

	next := t
	next.Attempt++
	delay := c.backoff(t.Attempt)
	if qerr := c.q.EnqueueAt(ctx, next, time.Now().Add(delay)); qerr != nil {
		// Job stays failed from its own terminal transition.
		c.log.Error("retry enqueue failed", zap.String("job_id", t.JobID), zap.Error(qerr))
		return
	}
	c.log.Info("task scheduled for retry",
		zap.String("job_id", t.JobID),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay),
	)
}
