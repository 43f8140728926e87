package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/memeq/internal/domain"
	"github.com/you/memeq/internal/storage"
)

// Reaper bounds the lifetime of abandoned in-flight jobs. It force-fails
// any non-terminal job older than the threshold and repairs index entries
// whose record is gone or already terminal. Safe to run repeatedly and
// concurrently with workers: racing a worker's own terminal transition is
// last-write-wins, which can report a just-finished job as failed. Accepted.
type Reaper struct {
	store     *storage.Store
	machine   *Machine
	threshold time.Duration
	log       *zap.Logger
}

func NewReaper(store *storage.Store, machine *Machine, threshold time.Duration, log *zap.Logger) *Reaper {
	if threshold <= 0 {
		threshold = 1800 * time.Second
	}
	return &Reaper{store: store, machine: machine, threshold: threshold, log: log}
}

// Sweep walks the in-flight index once and returns how many jobs it
// cleaned. Per-job failures are logged and skipped; the sweep itself only
// errors when the index cannot be read at all.
func (rp *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := rp.store.InflightIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	cleaned := 0
	for _, id := range ids {
		job, ok, err := rp.store.GetJob(ctx, id)
		if err != nil {
			rp.log.Warn("reaper: fetch failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if !ok {
			// Record expired but the index still lists it.
			if err := rp.store.RemoveInflight(ctx, id); err != nil {
				rp.log.Warn("reaper: index repair failed", zap.String("job_id", id), zap.Error(err))
				continue
			}
			cleaned++
			continue
		}
		if job.Status.Terminal() {
			// Terminal record whose index removal never landed.
			if err := rp.store.RemoveInflight(ctx, id); err != nil {
				rp.log.Warn("reaper: index repair failed", zap.String("job_id", id), zap.Error(err))
				continue
			}
			cleaned++
			continue
		}

		age, parsed := job.Age(now)
		if parsed && age <= rp.threshold {
			continue
		}
		if !parsed {
			rp.log.Warn("reaper: unparseable created_at, treating as stale",
				zap.String("job_id", id), zap.String("created_at", job.CreatedAt))
		}
		if _, err := rp.machine.Apply(ctx, id, domain.Failed, Transition{
			Error:     "Job timed out",
			ErrorType: "timeout",
		}); err != nil {
			rp.log.Warn("reaper: force-fail failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		rp.log.Info("reaper sweep", zap.Int("cleaned", cleaned), zap.Int("scanned", len(ids)))
	}
	return cleaned, nil
}
