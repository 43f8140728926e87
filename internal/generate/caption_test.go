package generate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type scriptedCaptioner struct {
	calls     int
	responses []string
	err       error
}

func (s *scriptedCaptioner) Caption(_ context.Context, _, _ string, _ int, _ bool) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func TestCaptionPassthrough(t *testing.T) {
	inner := &scriptedCaptioner{responses: []string{"cats run the office now"}}
	c := NewRetryingCaptioner(inner, 3, 0, time.Second, zap.NewNop())

	got, err := c.Caption(context.Background(), "a cat", "mondays", 75, false)
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if got != "cats run the office now" {
		t.Errorf("caption = %q", got)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestCaptionFallbackOnExhaustion(t *testing.T) {
	inner := &scriptedCaptioner{err: errors.New("backend down")}
	c := NewRetryingCaptioner(inner, 3, 0, time.Second, zap.NewNop())

	got, err := c.Caption(context.Background(), "a cat", "mondays", 75, false)
	if err != nil {
		t.Fatalf("fallback path returned error: %v", err)
	}
	if got != FallbackCaption {
		t.Errorf("caption = %q, want fallback", got)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestCaptionFallbackEmojiSuffix(t *testing.T) {
	inner := &scriptedCaptioner{err: errors.New("backend down")}
	c := NewRetryingCaptioner(inner, 1, 0, time.Second, zap.NewNop())

	got, err := c.Caption(context.Background(), "a cat", "mondays", 75, true)
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if !strings.HasPrefix(got, FallbackCaption) || got == FallbackCaption {
		t.Errorf("caption = %q, want fallback with emoji suffix", got)
	}
}

func TestCaptionRetriesOverLimitResponses(t *testing.T) {
	long := strings.Repeat("x", 200)
	inner := &scriptedCaptioner{responses: []string{long, "short and punchy"}}
	c := NewRetryingCaptioner(inner, 3, 0, time.Second, zap.NewNop())

	got, err := c.Caption(context.Background(), "a cat", "mondays", 75, false)
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if got != "short and punchy" {
		t.Errorf("caption = %q", got)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestCaptionPropagatesCallerDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &scriptedCaptioner{err: errors.New("never reached in time")}
	c := NewRetryingCaptioner(inner, 3, time.Second, time.Second, zap.NewNop())

	if _, err := c.Caption(ctx, "a cat", "mondays", 75, false); err == nil {
		t.Fatal("dead caller context still produced a fallback caption")
	}
}
