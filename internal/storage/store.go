package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/memeq/internal/domain"
)

// Key namespaces. Job and artifact records are independently-TTLed JSON
// blobs; the in-flight index is a SET so admission never has to scan keys.
const (
	jobPrefix   = "job:"
	memePrefix  = "meme:"
	inflightKey = "jobs:inflight"
)

// ErrInvalidArtifact is returned by PutArtifact when a required field is
// missing; nothing is written.
var ErrInvalidArtifact = errors.New("invalid artifact")

// Store persists job and artifact records in Redis. Every method is safe
// for concurrent use; failures are returned to the caller and must be read
// as "operation not confirmed", never as fatal.
type Store struct {
	rdb    *r.Client
	jobTTL time.Duration
	minTTL time.Duration
}

func New(rdb *r.Client, jobTTL, minTTL time.Duration) *Store {
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	if minTTL <= 0 {
		minTTL = time.Hour
	}
	return &Store{rdb: rdb, jobTTL: jobTTL, minTTL: minTTL}
}

func jobKey(id string) string  { return jobPrefix + id }
func memeKey(id string) string { return memePrefix + id }

// PutJob upserts a job record with the full default TTL. Used at creation.
func (s *Store) PutJob(ctx context.Context, id string, j domain.Job) error {
	return s.setJob(ctx, id, j, s.jobTTL)
}

// UpdateJob writes back a mutated record, refreshing the key's TTL to its
// remaining lifetime clamped to at least the configured minimum. Updates
// never extend a record past its original expiry by more than the minimum,
// and never let one expire mid-flight.
func (s *Store) UpdateJob(ctx context.Context, id string, j domain.Job) error {
	return s.setJob(ctx, id, j, s.remainingTTL(ctx, jobKey(id)))
}

func (s *Store) setJob(ctx context.Context, id string, j domain.Job, ttl time.Duration) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return errors.Wrapf(err, "marshal job %s", id)
	}
	if err := s.rdb.Set(ctx, jobKey(id), raw, ttl).Err(); err != nil {
		return errors.Wrapf(err, "put job %s", id)
	}
	return nil
}

func (s *Store) remainingTTL(ctx context.Context, key string) time.Duration {
	remaining, err := s.rdb.TTL(ctx, key).Result()
	if err != nil || remaining <= 0 {
		return s.jobTTL
	}
	if remaining < s.minTTL {
		return s.minTTL
	}
	return remaining
}

// GetJob fetches a job record. Absence is not an error.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	raw, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == r.Nil {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, errors.Wrapf(err, "get job %s", id)
	}
	var j domain.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return domain.Job{}, false, errors.Wrapf(err, "decode job %s", id)
	}
	return j, true, nil
}

// PutArtifact validates and stores the finished meme's metadata. A record
// missing a required field is rejected without a write.
func (s *Store) PutArtifact(ctx context.Context, id string, a domain.Artifact) error {
	if err := a.Validate(); err != nil {
		return errors.Wrap(ErrInvalidArtifact, err.Error())
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return errors.Wrapf(err, "marshal meme %s", id)
	}
	if err := s.rdb.Set(ctx, memeKey(id), raw, s.jobTTL).Err(); err != nil {
		return errors.Wrapf(err, "put meme %s", id)
	}
	return nil
}

// GetArtifact re-applies required-field validation on read; an invalid
// record is reported as absent.
func (s *Store) GetArtifact(ctx context.Context, id string) (domain.Artifact, bool, error) {
	raw, err := s.rdb.Get(ctx, memeKey(id)).Bytes()
	if err == r.Nil {
		return domain.Artifact{}, false, nil
	}
	if err != nil {
		return domain.Artifact{}, false, errors.Wrapf(err, "get meme %s", id)
	}
	var a domain.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Artifact{}, false, errors.Wrapf(err, "decode meme %s", id)
	}
	if a.Validate() != nil {
		return domain.Artifact{}, false, nil
	}
	return a, true, nil
}

func (s *Store) AddInflight(ctx context.Context, id string) error {
	return errors.Wrap(s.rdb.SAdd(ctx, inflightKey, id).Err(), "add inflight")
}

func (s *Store) RemoveInflight(ctx context.Context, id string) error {
	return errors.Wrap(s.rdb.SRem(ctx, inflightKey, id).Err(), "remove inflight")
}

func (s *Store) InflightCount(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, inflightKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "inflight count")
	}
	return int(n), nil
}

func (s *Store) InflightIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, inflightKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "inflight ids")
	}
	return ids, nil
}

// ClearJobs deletes every job record and resets the in-flight index.
// Administrative use only. Returns the number of job keys removed.
func (s *Store) ClearJobs(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, jobPrefix+"*", 100).Result()
		if err != nil {
			return removed, errors.Wrap(err, "scan jobs")
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			removed += int(n)
			if err != nil {
				return removed, errors.Wrap(err, "delete jobs")
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if err := s.rdb.Del(ctx, inflightKey).Err(); err != nil {
		return removed, errors.Wrap(err, "clear inflight index")
	}
	return removed, nil
}

// Ping reports store connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.rdb.Ping(ctx).Err(), "redis ping")
}
