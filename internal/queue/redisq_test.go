package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/memeq/internal/domain"
)

func newTestQueue(t *testing.T) (*RedisQ, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	in := Task{
		JobID:   "j1",
		Request: domain.MemeRequest{Type: "single", PersonaPrompt: "a cat", ThemePrompt: "mondays", CharLimit: 75},
		Attempt: 0,
	}
	if err := q.Enqueue(ctx, in); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, err := q.Dequeue(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if out.JobID != "j1" || out.Request.PersonaPrompt != "a cat" || out.Attempt != 0 {
		t.Errorf("task round trip mismatch: %+v", out)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrNoTask) {
		t.Fatalf("error = %v, want ErrNoTask", err)
	}
}

func TestDelayedTaskPromotion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task := Task{JobID: "j1", Attempt: 1}
	runAt := time.Now().Add(2 * time.Second)
	if err := q.EnqueueAt(ctx, task, runAt); err != nil {
		t.Fatalf("EnqueueAt: %v", err)
	}

	// Not due yet: nothing moves.
	moved, err := q.MoveDue(ctx, time.Now().Unix(), 100)
	if err != nil {
		t.Fatalf("MoveDue: %v", err)
	}
	if moved != 0 {
		t.Fatalf("moved = %d, want 0", moved)
	}
	if _, err := q.Dequeue(ctx, 50*time.Millisecond); !errors.Is(err, ErrNoTask) {
		t.Fatal("delayed task became visible early")
	}

	// Past the run time it promotes onto the live queue.
	moved, err = q.MoveDue(ctx, runAt.Add(time.Second).Unix(), 100)
	if err != nil {
		t.Fatalf("MoveDue: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	out, err := q.Dequeue(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if out.JobID != "j1" || out.Attempt != 1 {
		t.Errorf("promoted task = %+v", out)
	}

	// Promotion removed it from the delay set; a second pass is a no-op.
	moved, _ = q.MoveDue(ctx, runAt.Add(time.Minute).Unix(), 100)
	if moved != 0 {
		t.Errorf("second MoveDue moved %d, want 0", moved)
	}
}

func TestDepth(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, Task{JobID: "j"}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if n != 3 {
		t.Errorf("depth = %d, want 3", n)
	}
}
