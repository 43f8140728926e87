package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/domain"
	"github.com/you/memeq/internal/generate"
	"github.com/you/memeq/internal/lifecycle"
	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/storage"
)

type fakeComposer struct {
	err   error
	delay time.Duration
}

func (f *fakeComposer) Compose(ctx context.Context, _, _ string) (generate.Image, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return generate.Image{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return generate.Image{}, f.err
	}
	return generate.Image{PNG: []byte("base"), Traits: map[string]string{"eyes": "lasers"}}, nil
}

type fakeOverlayer struct {
	caption string
	err     error
}

func (f *fakeOverlayer) Overlay(_ context.Context, img generate.Image, caption string) (generate.Image, error) {
	if f.err != nil {
		return generate.Image{}, f.err
	}
	f.caption = caption
	return generate.Image{PNG: append(img.PNG, []byte(caption)...), Traits: img.Traits}, nil
}

type fakeCaptioner struct {
	text string
	err  error
}

func (f *fakeCaptioner) Caption(context.Context, string, string, int, bool) (string, error) {
	return f.text, f.err
}

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(context.Context, []byte) (string, error) {
	return f.url, f.err
}

type pipelineHarness struct {
	mr      *miniredis.Miniredis
	store   *storage.Store
	machine *lifecycle.Machine
	queue   *queue.RedisQ

	composer  *fakeComposer
	overlayer *fakeOverlayer
	captioner *fakeCaptioner
	uploader  *fakeUploader
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := storage.New(rdb, 24*time.Hour, time.Hour)
	return &pipelineHarness{
		mr:        mr,
		store:     store,
		machine:   lifecycle.NewMachine(store, zap.NewNop()),
		queue:     queue.New(rdb),
		composer:  &fakeComposer{},
		overlayer: &fakeOverlayer{},
		captioner: &fakeCaptioner{text: "cats run the office now"},
		uploader:  &fakeUploader{url: "https://img.example/meme.png"},
	}
}

func (h *pipelineHarness) pipeline(deadline time.Duration) *Pipeline {
	return NewPipeline(PipelineDeps{
		Machine:   h.machine,
		Store:     h.store,
		Composer:  h.composer,
		Overlayer: h.overlayer,
		Captioner: h.captioner,
		Uploader:  h.uploader,
		Deadline:  deadline,
		Log:       zap.NewNop(),
	})
}

func (h *pipelineHarness) seedQueuedJob(t *testing.T, id string) queue.Task {
	t.Helper()
	ctx := context.Background()
	req := domain.MemeRequest{
		Type: "single", PersonaPrompt: "a sarcastic cat", ThemePrompt: "Monday mornings",
		CharLimit: 75,
	}
	job := domain.NewJob(id, req, time.Now())
	if err := h.store.PutJob(ctx, id, job); err != nil {
		t.Fatal(err)
	}
	if err := h.store.AddInflight(ctx, id); err != nil {
		t.Fatal(err)
	}
	return queue.Task{JobID: id, Request: req}
}

func TestPipelineSuccess(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	task := h.seedQueuedJob(t, "j1")

	if err := h.pipeline(time.Minute).Run(ctx, task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, ok, _ := h.store.GetJob(ctx, "j1")
	if !ok {
		t.Fatal("job record gone")
	}
	if job.Status != domain.Completed {
		t.Fatalf("status = %s, want completed (error %q)", job.Status, job.Error)
	}
	if job.Result == nil || job.Result.ImageURL != "https://img.example/meme.png" {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.Result.Timing == nil {
		t.Error("timing breakdown missing")
	}

	var statuses []domain.Status
	for _, e := range job.History {
		statuses = append(statuses, e.Status)
	}
	want := []domain.Status{domain.Queued, domain.Processing, domain.Completed}
	if len(statuses) != len(want) {
		t.Fatalf("history = %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("history = %v, want %v", statuses, want)
		}
	}

	art, ok, _ := h.store.GetArtifact(ctx, "j1")
	if !ok {
		t.Fatal("artifact not stored")
	}
	if art.MemeID != "j1" || art.ImageURL != art.PublicURL {
		t.Errorf("artifact = %+v", art)
	}

	if n, _ := h.store.InflightCount(ctx); n != 0 {
		t.Errorf("inflight count = %d, want 0", n)
	}
	if h.overlayer.caption != "cats run the office now" {
		t.Errorf("overlaid caption = %q", h.overlayer.caption)
	}
}

func TestPipelineStageFailure(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	task := h.seedQueuedJob(t, "j1")
	h.composer.err = errors.New("no assets")

	err := h.pipeline(time.Minute).Run(ctx, task)
	if err == nil {
		t.Fatal("Run returned nil for a failed stage")
	}

	job, _, _ := h.store.GetJob(ctx, "j1")
	if job.Status != domain.Failed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorDetails, "compose") {
		t.Errorf("error details %q not stage-tagged", job.ErrorDetails)
	}
	if job.Error == "" || job.ErrorType == "" {
		t.Errorf("error fields empty: %q / %q", job.Error, job.ErrorType)
	}
	if n, _ := h.store.InflightCount(ctx); n != 0 {
		t.Errorf("failed job left in-flight")
	}
}

func TestPipelineDeadline(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	task := h.seedQueuedJob(t, "j1")
	h.composer.delay = 500 * time.Millisecond

	err := h.pipeline(50 * time.Millisecond).Run(ctx, task)
	if err == nil {
		t.Fatal("Run returned nil on deadline")
	}

	job, _, _ := h.store.GetJob(ctx, "j1")
	if job.Status != domain.Failed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error != "Generation timed out" {
		t.Errorf("error = %q, want \"Generation timed out\"", job.Error)
	}
	if job.ErrorType != "timeout" {
		t.Errorf("error_type = %q, want timeout", job.ErrorType)
	}
}

func TestPipelineCaptionFallbackStillCompletes(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	task := h.seedQueuedJob(t, "j1")

	// A captioner whose every attempt fails resolves to the fallback
	// placeholder; caption exhaustion alone never fails the job.
	failing := &fakeCaptioner{err: errors.New("backend down")}
	p := NewPipeline(PipelineDeps{
		Machine:   h.machine,
		Store:     h.store,
		Composer:  h.composer,
		Overlayer: h.overlayer,
		Captioner: generate.NewRetryingCaptioner(failing, 2, 0, time.Second, zap.NewNop()),
		Uploader:  h.uploader,
		Deadline:  time.Minute,
		Log:       zap.NewNop(),
	})

	if err := p.Run(ctx, task); err != nil {
		t.Fatalf("Run: %v", err)
	}
	job, _, _ := h.store.GetJob(ctx, "j1")
	if job.Status != domain.Completed {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if h.overlayer.caption != generate.FallbackCaption {
		t.Errorf("overlaid caption = %q, want fallback", h.overlayer.caption)
	}
}

func TestPipelineInvalidUploadFailsStoreStage(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	task := h.seedQueuedJob(t, "j1")
	h.uploader.url = "" // produces an artifact missing its required imageUrl

	err := h.pipeline(time.Minute).Run(ctx, task)
	if err == nil {
		t.Fatal("Run returned nil")
	}
	job, _, _ := h.store.GetJob(ctx, "j1")
	if job.Status != domain.Failed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorDetails, "store") {
		t.Errorf("error details %q, want store stage tag", job.ErrorDetails)
	}
	if _, ok, _ := h.store.GetArtifact(ctx, "j1"); ok {
		t.Error("invalid artifact was stored")
	}
}

func TestPipelineMissingJobDropsTask(t *testing.T) {
	h := newPipelineHarness(t)
	task := queue.Task{JobID: "ghost", Request: domain.MemeRequest{PersonaPrompt: "p", ThemePrompt: "t"}}

	// No record: nothing to update, nothing to retry.
	if err := h.pipeline(time.Minute).Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
