package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/domain"
	"github.com/you/memeq/internal/generate"
	"github.com/you/memeq/internal/lifecycle"
	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/storage"
)

// Pipeline runs one job end to end: processing transition, compose,
// caption, overlay, upload, artifact write, completed transition. One
// deadline wraps the whole run; a single slow stage can exhaust it.
type Pipeline struct {
	machine   *lifecycle.Machine
	store     *storage.Store
	archive   *storage.Archive // nil when no archive is configured
	composer  generate.Composer
	overlayer generate.Overlayer
	captioner generate.Captioner
	uploader  generate.Uploader
	deadline  time.Duration
	log       *zap.Logger
}

type PipelineDeps struct {
	Machine   *lifecycle.Machine
	Store     *storage.Store
	Archive   *storage.Archive
	Composer  generate.Composer
	Overlayer generate.Overlayer
	Captioner generate.Captioner
	Uploader  generate.Uploader
	Deadline  time.Duration
	Log       *zap.Logger
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Deadline <= 0 {
		d.Deadline = 300 * time.Second
	}
	return &Pipeline{
		machine:   d.Machine,
		store:     d.Store,
		archive:   d.Archive,
		composer:  d.Composer,
		overlayer: d.Overlayer,
		captioner: d.Captioner,
		uploader:  d.Uploader,
		deadline:  d.Deadline,
		log:       d.Log,
	}
}

// Run executes the pipeline for one dequeued task. Every stage failure is
// converted into a terminal FAILED transition before the error is returned;
// the returned error only exists to drive the queue's own retry. A retried
// task (Attempt > 0) re-opens the failed job back through processing.
func (p *Pipeline) Run(ctx context.Context, t queue.Task) error {
	log := p.log.With(zap.String("job_id", t.JobID), zap.Int("attempt", t.Attempt))
	log.Info("starting generation",
		zap.String("persona", t.Request.PersonaPrompt),
		zap.String("theme", t.Request.ThemePrompt),
	)

	cctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	if _, err := p.machine.Apply(cctx, t.JobID, domain.Processing, lifecycle.Transition{
		Reopen: t.Attempt > 0,
	}); err != nil {
		if errors.Is(err, lifecycle.ErrMissingJob) {
			// Record expired between enqueue and pickup; nothing to update
			// and nothing to retry.
			log.Warn("job record missing, dropping task")
			return nil
		}
		return err
	}

	req := t.Request
	req.Normalize()
	start := time.Now()

	composeStart := time.Now()
	img, err := p.composer.Compose(cctx, req.PersonaPrompt, req.ThemePrompt)
	if err != nil {
		return p.fail(ctx, cctx, t.JobID, "compose", err)
	}
	composeDur := time.Since(composeStart)

	captionStart := time.Now()
	caption, err := p.captioner.Caption(cctx, req.PersonaPrompt, req.ThemePrompt, req.CharLimit, req.AllowEmojis)
	if err != nil {
		return p.fail(ctx, cctx, t.JobID, "caption", err)
	}
	captionDur := time.Since(captionStart)

	final, err := p.overlayer.Overlay(cctx, img, caption)
	if err != nil {
		return p.fail(ctx, cctx, t.JobID, "overlay", err)
	}

	uploadStart := time.Now()
	url, err := p.uploader.Upload(cctx, final.PNG)
	if err != nil {
		return p.fail(ctx, cctx, t.JobID, "upload", err)
	}
	uploadDur := time.Since(uploadStart)

	timing := &domain.Timing{
		Composition: composeDur.Seconds(),
		Caption:     captionDur.Seconds(),
		Upload:      uploadDur.Seconds(),
		Total:       time.Since(start).Seconds(),
	}
	artifact := domain.Artifact{
		ImageURL:  url,
		PublicURL: url,
		Type:      req.Type,
		MemeID:    t.JobID,
		Timing:    timing,
	}
	if err := p.store.PutArtifact(cctx, t.JobID, artifact); err != nil {
		return p.fail(ctx, cctx, t.JobID, "store", err)
	}

	job, err := p.machine.Apply(cctx, t.JobID, domain.Completed, lifecycle.Transition{
		Result: &domain.Result{
			ImageURL: url,
			Type:     req.Type,
			MemeID:   t.JobID,
			Timing:   timing,
		},
	})
	if err != nil {
		return p.fail(ctx, cctx, t.JobID, "complete", err)
	}

	if p.archive != nil {
		if err := p.archive.ArchiveMeme(ctx, job, artifact); err != nil {
			log.Warn("archive write failed", zap.Error(err))
		}
	}

	log.Info("generation completed",
		zap.String("image_url", url),
		zap.Float64("total_seconds", timing.Total),
	)
	return nil
}

// fail records the terminal FAILED transition and returns the stage error
// for the queue's retry path. The transition runs on a fresh context: the
// job context is usually the thing that just died.
func (p *Pipeline) fail(parent, jobCtx context.Context, id, stage string, cause error) error {
	tr := lifecycle.Transition{
		Error:        cause.Error(),
		ErrorType:    fmt.Sprintf("%T", errors.Cause(cause)),
		ErrorDetails: fmt.Sprintf("stage %s: %v", stage, cause),
	}
	if errors.Is(cause, context.DeadlineExceeded) || jobCtx.Err() == context.DeadlineExceeded {
		tr.Error = "Generation timed out"
		tr.ErrorType = "timeout"
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer cancel()
	if _, err := p.machine.Apply(tctx, id, domain.Failed, tr); err != nil {
		p.log.Error("terminal transition failed",
			zap.String("job_id", id), zap.String("stage", stage), zap.Error(err))
	} else {
		p.log.Warn("generation failed",
			zap.String("job_id", id), zap.String("stage", stage), zap.Error(cause))
	}
	return errors.Wrapf(cause, "stage %s", stage)
}
