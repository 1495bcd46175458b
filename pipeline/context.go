package pipeline

import (
	"errors"
	"slices"

	"github.com/google/uuid"

	"github.com/c360studio/bloom/imaging"
	"github.com/c360studio/bloom/profile"
	"github.com/c360studio/bloom/task"
)

// Step names appended to RequestContext.Steps.
const (
	StepRouter     = "router"
	StepSpecialist = "specialist"
)

// Write-once violations. They indicate a stage bug, never user input.
var (
	ErrAlreadyRouted    = errors.New("route already set")
	ErrAlreadyValidated = errors.New("validated route already set")
	ErrAlreadyAnswered  = errors.New("response already set")
	ErrRunFailed        = errors.New("run already failed")
)

// Route is a (pillar, action) pair.
type Route struct {
	Pillar task.Pillar `json:"pillar"`
	Action string      `json:"action"`
}

// Name returns the route as "<pillar>.<action>".
func (r Route) Name() string {
	return task.RouteName(r.Pillar, r.Action)
}

// ConfidenceEntry is one self-rated confidence from a specialist call.
type ConfidenceEntry struct {
	Stage      string `json:"stage"`
	Action     string `json:"action"`
	Confidence string `json:"confidence"`
}

// Result is a specialist's structured answer: title, content, an optional
// suggestion, one pillar extension key, and the pillar tag.
type Result map[string]any

// Pillar returns the pillar tag written by the specialist.
func (r Result) Pillar() string {
	s, _ := r["pillar"].(string)
	return s
}

// RequestContext is the state of one pipeline run. It is owned by the
// goroutine executing the run and must not be shared. Routed fields and the
// response are write-once; steps and the confidence log only grow.
type RequestContext struct {
	ID          string
	UserMessage string
	PillarHint  string
	Profile     profile.Profile
	Image       *imaging.Image

	routed          bool
	routedPillar    string
	routedAction    string
	routerReasoning string

	validated bool
	route     Route

	response   Result
	err        string
	steps      []string
	confidence []ConfidenceEntry
}

// NewRequestContext creates the context for a new run with a fresh ID.
func NewRequestContext(message, hint string, p profile.Profile) *RequestContext {
	if p == nil {
		p = profile.Profile{}
	}
	return &RequestContext{
		ID:          uuid.New().String(),
		UserMessage: message,
		PillarHint:  hint,
		Profile:     p,
	}
}

// HasImage reports whether a decoded image is attached.
func (rc *RequestContext) HasImage() bool {
	return rc.Image != nil
}

// SetRouted records the router's decision. It fails if a decision was
// already recorded.
func (rc *RequestContext) SetRouted(pillar, action, reasoning string) error {
	if rc.routed {
		return ErrAlreadyRouted
	}
	rc.routed = true
	rc.routedPillar = pillar
	rc.routedAction = action
	rc.routerReasoning = reasoning
	return nil
}

// Routed returns the router's raw decision.
func (rc *RequestContext) Routed() (pillar, action, reasoning string, ok bool) {
	return rc.routedPillar, rc.routedAction, rc.routerReasoning, rc.routed
}

// setRoute records the validated route.
func (rc *RequestContext) setRoute(r Route) error {
	if rc.validated {
		return ErrAlreadyValidated
	}
	rc.validated = true
	rc.route = r
	return nil
}

// Route returns the validated route, or the router's raw decision before
// validation has run.
func (rc *RequestContext) Route() Route {
	if rc.validated {
		return rc.route
	}
	return Route{Pillar: task.Pillar(rc.routedPillar), Action: rc.routedAction}
}

// Validated reports whether route validation has run.
func (rc *RequestContext) Validated() bool {
	return rc.validated
}

// SetResponse records the specialist's result. It fails once a response or
// an error is present.
func (rc *RequestContext) SetResponse(r Result) error {
	if rc.err != "" {
		return ErrRunFailed
	}
	if rc.response != nil {
		return ErrAlreadyAnswered
	}
	rc.response = r
	return nil
}

// Response returns the result, or nil.
func (rc *RequestContext) Response() Result {
	return rc.response
}

// Fail sets the error sentinel. The first message wins, and a run that
// already has a response cannot fail.
func (rc *RequestContext) Fail(msg string) {
	if rc.err != "" || rc.response != nil {
		return
	}
	if msg == "" {
		msg = "unknown error"
	}
	rc.err = msg
}

// Err returns the error message, or "".
func (rc *RequestContext) Err() string {
	return rc.err
}

// Failed reports whether the error sentinel is set.
func (rc *RequestContext) Failed() bool {
	return rc.err != ""
}

// AppendStep adds a completed step to the audit trail.
func (rc *RequestContext) AppendStep(step string) {
	rc.steps = append(rc.steps, step)
}

// Steps returns a copy of the completed steps in order.
func (rc *RequestContext) Steps() []string {
	return slices.Clone(rc.steps)
}

// LogConfidence appends a confidence entry.
func (rc *RequestContext) LogConfidence(e ConfidenceEntry) {
	rc.confidence = append(rc.confidence, e)
}

// ConfidenceLog returns a copy of the confidence entries in order.
func (rc *RequestContext) ConfidenceLog() []ConfidenceEntry {
	return slices.Clone(rc.confidence)
}
