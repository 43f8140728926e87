package domain

import (
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Terminal reports whether no further transitions are expected from s.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether a job may move from one status to another.
// A terminal status is final, with one exception: the task queue's retry
// path may re-open a failed job back to processing. That path sets reopen;
// nothing reachable from the HTTP surface does.
func CanTransition(from, to Status, reopen bool) bool {
	switch from {
	case Queued:
		return to == Processing || to == Failed
	case Processing:
		return to == Completed || to == Failed
	case Failed:
		return reopen && to == Processing
	default:
		return false
	}
}

// MemeRequest is the client-submitted generation request, stored verbatim
// on the job record.
type MemeRequest struct {
	Type          string `json:"type"`
	PersonaPrompt string `json:"personaPrompt"`
	ThemePrompt   string `json:"themePrompt"`
	CharLimit     int    `json:"charLimit"`
	AllowEmojis   bool   `json:"allowEmojis"`
}

func (r *MemeRequest) Normalize() {
	if r.Type == "" {
		r.Type = "single"
	}
	if r.CharLimit <= 0 {
		r.CharLimit = 75
	}
}

func (r MemeRequest) Validate() error {
	if r.PersonaPrompt == "" {
		return errors.New("personaPrompt is required")
	}
	if r.ThemePrompt == "" {
		return errors.New("themePrompt is required")
	}
	return nil
}

type HistoryEntry struct {
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// Timing is the per-stage duration breakdown attached to a completed job,
// in seconds.
type Timing struct {
	Composition float64 `json:"composition_duration"`
	Caption     float64 `json:"caption_duration"`
	Upload      float64 `json:"upload_duration"`
	Total       float64 `json:"total_duration"`
}

type Result struct {
	ImageURL string  `json:"imageUrl"`
	Type     string  `json:"type"`
	MemeID   string  `json:"memeId"`
	Timing   *Timing `json:"timing,omitempty"`
}

// Job is the persisted record tracking one generation request end to end.
// Timestamps are stored as RFC 3339 strings, not time.Time: the record must
// survive a corrupt timestamp (the reaper treats one as maximally old), so
// decoding the record can never fail on it.
type Job struct {
	ID           string         `json:"id"`
	Status       Status         `json:"status"`
	Request      MemeRequest    `json:"request"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	History      []HistoryEntry `json:"status_history"`
	Result       *Result        `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	TaskRef      string         `json:"task_reference,omitempty"`
}

// Timestamp renders t the way job records store time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewJob builds the initial queued record, history seeded with the queued
// entry.
func NewJob(id string, req MemeRequest, now time.Time) Job {
	ts := Timestamp(now)
	return Job{
		ID:        id,
		Status:    Queued,
		Request:   req,
		CreatedAt: ts,
		UpdatedAt: ts,
		History:   []HistoryEntry{{Status: Queued, Timestamp: ts}},
	}
}

// Age returns how long ago the job was created. ok is false when created_at
// does not parse; callers decide what an unknown age means (the reaper
// treats it as infinitely old).
func (j Job) Age(now time.Time) (time.Duration, bool) {
	created, err := time.Parse(time.RFC3339Nano, j.CreatedAt)
	if err != nil {
		if created, err = time.Parse(time.RFC3339, j.CreatedAt); err != nil {
			return 0, false
		}
	}
	return now.Sub(created), true
}
