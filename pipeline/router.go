package pipeline

import (
	"context"
	"log/slog"

	"github.com/c360studio/bloom/imaging"
	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/model"
	"github.com/c360studio/bloom/prompts"
	"github.com/c360studio/bloom/task"
)

// Router fallbacks when the model reply cannot be used.
const (
	FallbackRoute     = "mind.general_support"
	FallbackReasoning = "Could not parse router output, defaulting to general support."
)

// Stage is one sequential step of a run. Model failures are recorded on
// the context with Fail; a returned error is an unexpected fault.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RequestContext) error
}

// Router asks the model to pick exactly one registered route.
type Router struct {
	client   llm.Completer
	registry *task.Registry
	library  *prompts.Library
	logger   *slog.Logger
}

// NewRouter creates the router stage.
func NewRouter(client llm.Completer, registry *task.Registry, library *prompts.Library, logger *slog.Logger) *Router {
	if library == nil {
		library = prompts.NewLibrary()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{client: client, registry: registry, library: library, logger: logger}
}

// Name implements Stage.
func (r *Router) Name() string { return StepRouter }

// Run implements Stage. A failed model call sets the context error and
// is not retried.
func (r *Router) Run(ctx context.Context, rc *RequestContext) error {
	prompt := r.library.Router(rc.UserMessage, rc.PillarHint, rc.Profile.JSON(), r.registry.All())

	resp, err := r.client.Complete(ctx, llm.Request{
		Capability: model.CapabilityRouting,
		Parts:      withImage(rc.Image, prompt),
	})
	if err != nil {
		r.logger.Warn("Router call failed", "run_id", rc.ID, "error", err)
		rc.Fail(err.Error())
		return nil
	}

	route, reasoning := parseRouterReply(resp.Content)
	pillar, action, ok := task.SplitRoute(route)
	if !ok {
		pillar, action, _ = task.SplitRoute(FallbackRoute)
	}

	if err := rc.SetRouted(pillar, action, reasoning); err != nil {
		return err
	}
	rc.AppendStep(StepRouter)

	r.logger.Debug("Routed",
		"run_id", rc.ID,
		"pillar", pillar,
		"action", action,
		"reasoning", reasoning)
	return nil
}

// parseRouterReply reads {task, reasoning}. It never fails: an unreadable
// reply yields the fallback route and reasoning.
func parseRouterReply(raw string) (route, reasoning string) {
	obj, ok := llm.DecodeObject(raw)
	if !ok {
		return FallbackRoute, FallbackReasoning
	}

	route, ok = llm.StringField(obj, "task")
	if !ok || route == "" {
		route = FallbackRoute
	}
	reasoning, _ = llm.StringField(obj, "reasoning")
	return route, reasoning
}

// withImage builds [image, prompt], or [prompt] when img is nil.
func withImage(img *imaging.Image, prompt string) []llm.Part {
	if img == nil {
		return []llm.Part{llm.TextPart(prompt)}
	}
	return []llm.Part{llm.ImagePart(img.MIMEType, img.Data), llm.TextPart(prompt)}
}
