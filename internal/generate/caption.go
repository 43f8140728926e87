package generate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/you/memeq/internal/retry"
)

// FallbackCaption is overlaid when every caption attempt fails. Caption
// exhaustion alone never fails a job.
const FallbackCaption = "Having a creative moment..."

// RetryingCaptioner wraps a Captioner with the shared retry policy, a
// per-call timeout, and the fallback placeholder. The pipeline treats the
// whole thing as a single fallible call.
type RetryingCaptioner struct {
	inner   Captioner
	policy  retry.Policy
	timeout time.Duration
	log     *zap.Logger
}

func NewRetryingCaptioner(inner Captioner, maxAttempts int, backoffBase, timeout time.Duration, log *zap.Logger) *RetryingCaptioner {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RetryingCaptioner{
		inner: inner,
		policy: retry.Policy{
			MaxAttempts: maxAttempts,
			Backoff:     retry.Exponential(backoffBase),
		},
		timeout: timeout,
		log:     log,
	}
}

// Caption retries the backend with exponential backoff, rejecting over-limit
// responses as retryable failures. When attempts are exhausted it returns
// the fallback string and no error; only the caller's own context ending
// propagates, so a job deadline is still reported as a timeout.
func (c *RetryingCaptioner) Caption(ctx context.Context, persona, theme string, charLimit int, allowEmojis bool) (string, error) {
	var out string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		s, err := c.inner.Caption(cctx, persona, theme, charLimit, allowEmojis)
		if err != nil {
			return err
		}
		if charLimit > 0 && len([]rune(s)) > charLimit {
			return errOverLimit{limit: charLimit, got: len([]rune(s))}
		}
		out = s
		return nil
	})
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	c.log.Warn("caption attempts exhausted, using fallback", zap.Error(err))
	fb := FallbackCaption
	if allowEmojis {
		fb += " 😅"
	}
	return fb, nil
}

type errOverLimit struct{ limit, got int }

func (e errOverLimit) Error() string {
	return fmt.Sprintf("caption over limit: %d chars, limit %d", e.got, e.limit)
}
