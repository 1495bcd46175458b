// Package pipeline runs one request through routing, route validation, and
// a pillar specialist, reporting progress as a fixed sequence of events:
// status first, then either error or routed followed by result.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/bloom/imaging"
	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/profile"
	"github.com/c360studio/bloom/prompts"
	"github.com/c360studio/bloom/task"
)

// DefaultTimeout bounds a whole run.
const DefaultTimeout = 2 * time.Minute

// Request is the inbound request body.
type Request struct {
	Message   string          `json:"message"`
	Pillar    string          `json:"pillar"`
	Context   profile.Profile `json:"context"`
	ImageData string          `json:"image_data"`
}

// Observer receives run measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveStage(stage string, duration time.Duration, failed bool)
	ObserveRoute(v Validation)
	ObserveRun(outcome string, pillar task.Pillar, duration time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithTimeout bounds each run. Zero or less disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithMaxImageBytes limits decoded image size.
func WithMaxImageBytes(n int) Option {
	return func(o *Orchestrator) {
		o.maxImageBytes = n
	}
}

// WithObserver sets the measurement sink.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithRecorder hands a record of every finished run to r. It may be given
// more than once.
func WithRecorder(r RunSink) Option {
	return func(o *Orchestrator) {
		o.recorders = append(o.recorders, r)
	}
}

// WithLibrary sets the prompt library used by the default stages.
func WithLibrary(lib *prompts.Library) Option {
	return func(o *Orchestrator) {
		o.library = lib
	}
}

// WithRouterStage replaces the router stage.
func WithRouterStage(s Stage) Option {
	return func(o *Orchestrator) {
		o.router = s
	}
}

// WithSpecialist replaces the specialist for a pillar.
func WithSpecialist(pillar task.Pillar, s Stage) Option {
	return func(o *Orchestrator) {
		o.overrides[pillar] = s
	}
}

// Orchestrator drives runs. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	registry      *task.Registry
	library       *prompts.Library
	logger        *slog.Logger
	timeout       time.Duration
	maxImageBytes int
	observer      Observer
	recorders     []RunSink

	router      Stage
	specialists map[task.Pillar]Stage
	overrides   map[task.Pillar]Stage
}

// NewOrchestrator wires the router and the four specialists around client.
func NewOrchestrator(client llm.Completer, registry *task.Registry, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = task.Default()
	}
	o := &Orchestrator{
		registry:    registry,
		logger:      slog.Default(),
		timeout:     DefaultTimeout,
		specialists: make(map[task.Pillar]Stage),
		overrides:   make(map[task.Pillar]Stage),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.library == nil {
		o.library = prompts.NewLibrary(prompts.WithLibraryLogger(o.logger))
	}

	if o.router == nil {
		o.router = NewRouter(client, registry, o.library, o.logger)
	}
	for _, cfg := range DefaultSpecialistConfigs() {
		o.specialists[cfg.Pillar] = NewSpecialist(cfg, client, o.library, o.logger)
	}
	for pillar, s := range o.overrides {
		o.specialists[pillar] = s
	}
	o.overrides = nil
	return o
}

// Registry returns the task registry.
func (o *Orchestrator) Registry() *task.Registry {
	return o.registry
}

// specialistFor returns the stage for a pillar, defaulting to mind.
func (o *Orchestrator) specialistFor(p task.Pillar) Stage {
	if s, ok := o.specialists[p]; ok {
		return s
	}
	return o.specialists[task.PillarMind]
}

// Run executes one request and emits its events in order. The returned
// context holds the final state. The error is non-nil only when emit
// failed, in which case the run was abandoned.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit EmitFunc) (*RequestContext, error) {
	started := time.Now()
	rc := NewRequestContext(req.Message, req.Pillar, req.Context)
	logger := o.logger.With("run_id", rc.ID)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	ctx = llm.WithTraceContext(ctx, llm.TraceContext{TraceID: rc.ID, RunID: rc.ID})

	var validation *Validation
	outcome := OutcomeAborted
	defer func() {
		o.finish(ctx, rc, validation, outcome, started)
	}()

	if err := emit(statusEvent()); err != nil {
		return rc, err
	}

	// Init: decode the image.
	if req.ImageData != "" {
		img, err := imaging.Decode(req.ImageData, o.maxImageBytes)
		if err != nil {
			rc.Fail("Image decode failed: " + err.Error())
			outcome = OutcomeError
			return rc, emit(errorEvent(rc.Err()))
		}
		rc.Image = img
	}

	// Routing.
	if err := o.runStage(llm.WithStage(ctx, StepRouter), o.router, rc); err != nil {
		rc.Fail("Routing failed: " + err.Error())
	}
	if rc.Failed() {
		outcome = OutcomeError
		return rc, emit(errorEvent(rc.Err()))
	}
	pillar, action, reasoning, _ := rc.Routed()
	if err := emit(routedEvent(pillar, action, reasoning)); err != nil {
		return rc, err
	}

	// Validating.
	v := o.validate(rc, pillar, action)
	validation = &v
	if rc.Failed() {
		outcome = OutcomeError
		return rc, emit(errorEvent(rc.Err()))
	}
	if v.Changed() {
		logger.Debug("Route adjusted",
			"routed", task.RouteName(task.Pillar(pillar), action),
			"route", v.Route.Name(),
			"repaired", v.Repaired,
			"downgraded", v.Downgraded)
	}
	if o.observer != nil {
		o.observer.ObserveRoute(v)
	}

	// Dispatching.
	stage := o.specialistFor(v.Route.Pillar)
	if err := o.runStage(llm.WithStage(ctx, StepSpecialist), stage, rc); err != nil {
		logger.Error("Specialist failed", "pillar", v.Route.Pillar, "error", err)
		rc.Fail("Specialist failed: " + err.Error())
	}
	if rc.Failed() {
		outcome = OutcomeError
		return rc, emit(errorEvent(rc.Err()))
	}

	outcome = OutcomeSuccess
	return rc, emit(resultEvent(rc.Response()))
}

// runStage runs s, converting a panic into an error.
// validate resolves the routed pair and records the dispatched route on
// rc. A route recorded twice fails the run as a routing fault.
func (o *Orchestrator) validate(rc *RequestContext, pillar, action string) Validation {
	v := ValidateRoute(o.registry, pillar, action, rc.HasImage())
	if err := rc.setRoute(v.Route); err != nil {
		rc.Fail("Routing failed: " + err.Error())
	}
	return v
}

func (o *Orchestrator) runStage(ctx context.Context, s Stage, rc *RequestContext) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
		if o.observer != nil {
			o.observer.ObserveStage(s.Name(), time.Since(start), err != nil || rc.Failed())
		}
	}()
	return s.Run(ctx, rc)
}

func (o *Orchestrator) finish(ctx context.Context, rc *RequestContext, v *Validation, outcome string, started time.Time) {
	d := time.Since(started)

	var pillar task.Pillar
	if v != nil {
		pillar = v.Route.Pillar
	}
	if o.observer != nil {
		o.observer.ObserveRun(outcome, pillar, d)
	}

	o.logger.Info("Run finished",
		"run_id", rc.ID,
		"outcome", outcome,
		"route", rc.Route().Name(),
		"steps", rc.Steps(),
		"duration", d)

	if len(o.recorders) == 0 {
		return
	}
	rec := NewRunRecord(rc, v, outcome, started, d)
	recordCtx := context.WithoutCancel(ctx)
	for _, r := range o.recorders {
		if err := r.Record(recordCtx, rec); err != nil {
			o.logger.Warn("Failed to record run", "run_id", rc.ID, "error", err)
		}
	}
}
