package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/domain"
	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/storage"
)

// ErrBusy signals that the in-flight count is over the capacity ceiling.
// Maps to a 503 at the HTTP boundary.
var ErrBusy = errors.New("server busy")

// Admitter decides whether a generation request may enter the system, and
// on acceptance creates the queued record and dispatches the task.
type Admitter struct {
	store   *storage.Store
	queue   *queue.RedisQ
	reaper  *Reaper
	ceiling int
	log     *zap.Logger
}

func NewAdmitter(store *storage.Store, q *queue.RedisQ, reaper *Reaper, ceiling int, log *zap.Logger) *Admitter {
	if ceiling <= 0 {
		ceiling = 100
	}
	return &Admitter{store: store, queue: q, reaper: reaper, ceiling: ceiling, log: log}
}

// Admit runs one best-effort reaper sweep so abandoned jobs do not hold
// capacity, evaluates the ceiling, and on acceptance persists the queued
// record before any work is dispatched. The worker is never invoked for a
// job that was not durably recorded.
func (a *Admitter) Admit(ctx context.Context, req domain.MemeRequest) (domain.Job, error) {
	if a.reaper != nil {
		if _, err := a.reaper.Sweep(ctx); err != nil {
			a.log.Warn("admission: reaper sweep failed", zap.Error(err))
		}
	}

	inflight, err := a.store.InflightCount(ctx)
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "admission: inflight count")
	}
	a.log.Info("admission check", zap.Int("inflight", inflight), zap.Int("ceiling", a.ceiling))
	if inflight > a.ceiling {
		return domain.Job{}, ErrBusy
	}

	id := uuid.NewString()
	job := domain.NewJob(id, req, time.Now())
	job.TaskRef = "generation:" + id

	if err := a.store.PutJob(ctx, id, job); err != nil {
		return domain.Job{}, errors.Wrap(err, "admission: create job")
	}
	if err := a.store.AddInflight(ctx, id); err != nil {
		return domain.Job{}, errors.Wrap(err, "admission: index job")
	}
	if err := a.queue.Enqueue(ctx, queue.Task{JobID: id, Request: req}); err != nil {
		// Record exists but no task was dispatched; the reaper will fail
		// it once it goes stale.
		return domain.Job{}, errors.Wrap(err, "admission: enqueue")
	}

	a.log.Info("job admitted", zap.String("job_id", id))
	return job, nil
}
