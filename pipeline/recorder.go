package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/bloom/llm"
)

// DefaultRunSubject is the NATS subject run records are published on.
const DefaultRunSubject = "bloom.pipeline.runs"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeAborted = "aborted"
)

// RunRecord summarizes one finished run.
type RunRecord struct {
	RunID      string            `json:"run_id"`
	PillarHint string            `json:"pillar_hint,omitempty"`
	HasImage   bool              `json:"has_image"`
	Routed     *RoutedData       `json:"routed,omitempty"`
	Route      *Route            `json:"route,omitempty"`
	Repaired   bool              `json:"repaired,omitempty"`
	Downgraded bool              `json:"downgraded,omitempty"`
	Steps      []string          `json:"steps"`
	Confidence []ConfidenceEntry `json:"confidence,omitempty"`
	Outcome    string            `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
}

// NewRunRecord builds the record of a finished run. The user message and
// profile are not included.
func NewRunRecord(rc *RequestContext, v *Validation, outcome string, started time.Time, d time.Duration) *RunRecord {
	rec := &RunRecord{
		RunID:      rc.ID,
		PillarHint: rc.PillarHint,
		HasImage:   rc.HasImage(),
		Steps:      rc.Steps(),
		Confidence: rc.ConfidenceLog(),
		Outcome:    outcome,
		Error:      rc.Err(),
		StartedAt:  started,
		DurationMs: d.Milliseconds(),
	}
	if pillar, action, reasoning, ok := rc.Routed(); ok {
		rec.Routed = &RoutedData{Pillar: pillar, Action: action, Reasoning: reasoning}
	}
	if v != nil {
		route := v.Route
		rec.Route = &route
		rec.Repaired = v.Repaired
		rec.Downgraded = v.Downgraded
	}
	if rec.Steps == nil {
		rec.Steps = []string{}
	}
	return rec
}

// RunSink receives the record of every finished run.
type RunSink interface {
	Record(ctx context.Context, rec *RunRecord) error
}

// Recorder publishes run records.
type Recorder struct {
	pub     llm.Publisher
	subject string
	logger  *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRunSubject overrides the publish subject.
func WithRunSubject(subject string) RecorderOption {
	return func(r *Recorder) {
		if subject != "" {
			r.subject = subject
		}
	}
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder publishing through pub, typically a
// *nats.Conn.
func NewRecorder(pub llm.Publisher, opts ...RecorderOption) (*Recorder, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	r := &Recorder{pub: pub, subject: DefaultRunSubject, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Subject returns the publish subject.
func (r *Recorder) Subject() string {
	return r.subject
}

// Record publishes rec.
func (r *Recorder) Record(ctx context.Context, rec *RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := r.pub.Publish(r.subject, data); err != nil {
		return fmt.Errorf("publish run record: %w", err)
	}
	r.logger.Debug("Run record published", "run_id", rec.RunID, "subject", r.subject)
	return nil
}
