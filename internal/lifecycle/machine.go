package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/domain"
	"github.com/you/memeq/internal/storage"
)

// ErrMissingJob is returned when a transition targets a job id with no
// record. Callers must not loop on it.
var ErrMissingJob = errors.New("update attempted on missing job")

// Transition carries the optional payloads merged into the record alongside
// a status change.
type Transition struct {
	Result       *domain.Result
	Error        string
	ErrorType    string
	ErrorDetails string

	// Reopen asserts the queue-retry path, the only caller allowed to move
	// a failed job back to processing.
	Reopen bool
}

// Machine applies status transitions to job records. The update is a
// read-modify-write against the store with no lock: concurrent writers to
// the same job id race last-write-wins on status and can, in principle,
// drop a history entry. A job has a single owning writer in normal
// operation, so this is an accepted limitation rather than a masked one.
type Machine struct {
	store *storage.Store
	log   *zap.Logger
}

func NewMachine(store *storage.Store, log *zap.Logger) *Machine {
	return &Machine{store: store, log: log}
}

// Apply moves the job to the target status: appends the history entry,
// refreshes updated_at, merges any result or error payload, writes back
// with a refreshed TTL, and drops the id from the in-flight index when the
// target is terminal.
func (m *Machine) Apply(ctx context.Context, id string, target domain.Status, tr Transition) (domain.Job, error) {
	job, ok, err := m.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, errors.Wrap(ErrMissingJob, id)
	}
	if !domain.CanTransition(job.Status, target, tr.Reopen) {
		return domain.Job{}, errors.Errorf("invalid transition %s -> %s for job %s", job.Status, target, id)
	}

	now := domain.Timestamp(time.Now())
	job.Status = target
	job.UpdatedAt = now
	job.History = append(job.History, domain.HistoryEntry{
		Status:    target,
		Timestamp: now,
		Error:     tr.Error,
	})

	switch {
	case tr.Error != "":
		job.Error = tr.Error
		job.ErrorType = tr.ErrorType
		job.ErrorDetails = tr.ErrorDetails
	case target == domain.Processing:
		// A fresh attempt; stale failure fields would misreport it.
		job.Error = ""
		job.ErrorType = ""
		job.ErrorDetails = ""
	}
	if tr.Result != nil {
		job.Result = tr.Result
	}

	if err := m.store.UpdateJob(ctx, id, job); err != nil {
		return domain.Job{}, err
	}
	m.log.Info("job transition",
		zap.String("job_id", id),
		zap.String("status", string(target)),
		zap.String("error", tr.Error),
	)

	if target.Terminal() {
		if err := m.store.RemoveInflight(ctx, id); err != nil {
			// Record is terminal; a leftover index entry is repaired by
			// the next reaper sweep.
			m.log.Warn("inflight removal failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return job, nil
}
