package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCallSubject is the NATS subject call records are published on.
const DefaultCallSubject = "bloom.llm.calls"

// maxPromptRecord caps the prompt text kept in a record.
const maxPromptRecord = 4000

// CallRecord represents a single model call with enough context to trace
// it back to the pipeline run that made it.
type CallRecord struct {
	// RequestID uniquely identifies this call.
	RequestID string `json:"request_id"`

	// TraceID correlates this call with other calls in the same request flow.
	TraceID string `json:"trace_id,omitempty"`

	// RunID is the pipeline run that initiated this call.
	RunID string `json:"run_id,omitempty"`

	// Stage is the pipeline stage ("router", "specialist", "confidence").
	Stage string `json:"stage,omitempty"`

	// Capability is the resolved capability (routing, support, vision).
	Capability string `json:"capability"`

	// Model is the actual model that was used for this call.
	Model string `json:"model"`

	// Provider is the model provider (gemini, anthropic, openai, ollama).
	Provider string `json:"provider"`

	// Prompt is the text portion of the prompt, truncated.
	Prompt string `json:"prompt"`

	// Images is the number of image parts sent.
	Images int `json:"images,omitempty"`

	// Response is the generated content.
	Response string `json:"response"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// ContextBudget is the maximum context window size for this model (optional).
	ContextBudget int `json:"context_budget,omitempty"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	// Error contains the error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// FallbacksUsed lists models tried before success.
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
}

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CallStore publishes call records for offline inspection.
type CallStore struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithSubject overrides the subject records are published on.
func WithSubject(subject string) CallStoreOption {
	return func(s *CallStore) {
		if subject != "" {
			s.subject = subject
		}
	}
}

// WithStoreLogger sets the logger for the call store.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		s.logger = logger
	}
}

// NewCallStore creates a call store publishing through pub.
func NewCallStore(pub Publisher, opts ...CallStoreOption) (*CallStore, error) {
	if pub == nil {
		return nil, errors.New("publisher required")
	}

	s := &CallStore{
		pub:     pub,
		subject: DefaultCallSubject,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Subject returns the subject records are published on.
func (s *CallStore) Subject() string {
	return s.subject
}

// Store publishes a call record.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if record.RequestID == "" {
		return errors.New("request_id is required")
	}

	rec := *record
	if len(rec.Prompt) > maxPromptRecord {
		rec.Prompt = rec.Prompt[:maxPromptRecord] + "..."
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}

	s.logger.Debug("Published model call",
		"subject", s.subject,
		"request_id", record.RequestID,
		"run_id", record.RunID,
		"capability", record.Capability)

	return nil
}

// TraceContext holds trace information carried on a context.
type TraceContext struct {
	TraceID string
	RunID   string
	Stage   string
}

type traceContextKey struct{}

// WithTraceContext adds trace information to a context.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// WithStage returns ctx with the stage name replaced, keeping the other
// trace fields.
func WithStage(ctx context.Context, stage string) context.Context {
	tc := GetTraceContext(ctx)
	tc.Stage = stage
	return WithTraceContext(ctx, tc)
}

// GetTraceContext extracts trace information from a context.
func GetTraceContext(ctx context.Context) TraceContext {
	if tc, ok := ctx.Value(traceContextKey{}).(TraceContext); ok {
		return tc
	}
	return TraceContext{}
}
