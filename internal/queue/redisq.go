package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/memeq/internal/domain"
)

const (
	queueKey = "queue:generation"
	delayKey = "delay:generation"
)

// ErrNoTask is returned by Dequeue when the blocking pop times out with an
// empty queue.
var ErrNoTask = errors.New("no task available")

// Task is the envelope carried through the generation queue. Attempt counts
// whole-task retries; the job record itself stays in the job store.
type Task struct {
	JobID   string             `json:"job_id"`
	Request domain.MemeRequest `json:"request"`
	Attempt int                `json:"attempt"`
}

type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// Enqueue pushes a task for immediate pickup.
func (q *RedisQ) Enqueue(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}
	return errors.Wrap(q.rdb.LPush(ctx, queueKey, raw).Err(), "enqueue task")
}

// EnqueueAt parks a task on the delay set until runAt; MoveDue promotes it.
func (q *RedisQ) EnqueueAt(ctx context.Context, t Task, runAt time.Time) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}
	return errors.Wrap(
		q.rdb.ZAdd(ctx, delayKey, r.Z{Score: float64(runAt.Unix()), Member: string(raw)}).Err(),
		"enqueue delayed task")
}

// Dequeue blocks up to the given duration for the next task.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (Task, error) {
	res, err := q.rdb.BRPop(ctx, block, queueKey).Result()
	if err == r.Nil {
		return Task{}, ErrNoTask
	}
	if err != nil {
		return Task{}, errors.Wrap(err, "dequeue task")
	}
	if len(res) != 2 {
		return Task{}, ErrNoTask
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return Task{}, errors.Wrap(err, "decode task")
	}
	return t, nil
}

// MoveDue promotes delayed tasks whose run time has arrived onto the live
// queue. Safe to run from every worker; promotion is idempotent per member.
func (q *RedisQ) MoveDue(ctx context.Context, now int64, batch int64) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(members) == 0 {
		return 0, errors.Wrap(err, "range delayed tasks")
	}
	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, queueKey, m)
		pipe.ZRem(ctx, delayKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "promote delayed tasks")
	}
	return len(members), nil
}

// Depth reports the number of tasks waiting on the live queue.
func (q *RedisQ) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey).Result()
	return n, errors.Wrap(err, "queue depth")
}
