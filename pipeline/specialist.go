package pipeline

import (
	"context"
	"log/slog"

	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/model"
	"github.com/c360studio/bloom/prompts"
	"github.com/c360studio/bloom/task"
)

// SpecialistConfig describes one pillar's specialist.
type SpecialistConfig struct {
	Pillar task.Pillar

	// DefaultAction is used when the context carries no action.
	DefaultAction string

	// AttachImage sends the request image with the prompt when present.
	AttachImage bool

	// WithConfidence adds the self-rated confidence call.
	WithConfidence bool

	// FallbackTitle and ExtensionKey shape the result used when the reply
	// is not a JSON object.
	FallbackTitle string
	ExtensionKey  string
}

// DefaultSpecialistConfigs returns the four built-in specialists.
func DefaultSpecialistConfigs() []SpecialistConfig {
	return []SpecialistConfig{
		{
			Pillar:        task.PillarMind,
			DefaultAction: task.PillarMind.DefaultAction(),
			FallbackTitle: "A moment for you",
			ExtensionKey:  "moodInsight",
		},
		{
			Pillar:         task.PillarBody,
			DefaultAction:  task.PillarBody.DefaultAction(),
			AttachImage:    true,
			WithConfidence: true,
			FallbackTitle:  "Recovery Update",
			ExtensionKey:   "exerciseSteps",
		},
		{
			Pillar:         task.PillarBaby,
			DefaultAction:  task.PillarBaby.DefaultAction(),
			AttachImage:    true,
			WithConfidence: true,
			FallbackTitle:  "Baby Update",
			ExtensionKey:   "babyReadout",
		},
		{
			Pillar:         task.PillarPartner,
			DefaultAction:  task.PillarPartner.DefaultAction(),
			WithConfidence: true,
			FallbackTitle:  "How to help",
			ExtensionKey:   "partnerActions",
		},
	}
}

// Specialist answers a routed request for one pillar.
type Specialist struct {
	cfg     SpecialistConfig
	client  llm.Completer
	library *prompts.Library
	logger  *slog.Logger
}

// NewSpecialist creates a specialist stage.
func NewSpecialist(cfg SpecialistConfig, client llm.Completer, library *prompts.Library, logger *slog.Logger) *Specialist {
	if library == nil {
		library = prompts.NewLibrary()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = cfg.Pillar.DefaultAction()
	}
	return &Specialist{cfg: cfg, client: client, library: library, logger: logger}
}

// Name implements Stage.
func (s *Specialist) Name() string { return string(s.cfg.Pillar) }

// Config returns the specialist's configuration.
func (s *Specialist) Config() SpecialistConfig { return s.cfg }

// Run implements Stage.
func (s *Specialist) Run(ctx context.Context, rc *RequestContext) error {
	action := rc.Route().Action
	if action == "" {
		action = s.cfg.DefaultAction
	}

	prompt := s.library.Builder(s.cfg.Pillar, action)(rc.UserMessage, rc.Profile)

	parts := []llm.Part{llm.TextPart(prompt)}
	if s.cfg.AttachImage {
		parts = withImage(rc.Image, prompt)
	}
	req := llm.Request{Capability: model.CapabilitySupport, Parts: parts}

	var (
		resp       *llm.Response
		confidence string
		err        error
	)
	if s.cfg.WithConfidence {
		resp, confidence, err = llm.CompleteWithConfidence(ctx, s.client, req)
	} else {
		resp, err = s.client.Complete(ctx, req)
	}
	if err != nil {
		s.logger.Warn("Specialist call failed",
			"run_id", rc.ID,
			"pillar", s.cfg.Pillar,
			"action", action,
			"error", err)
		rc.Fail(err.Error())
		return nil
	}

	if s.cfg.WithConfidence {
		rc.LogConfidence(ConfidenceEntry{
			Stage:      string(s.cfg.Pillar),
			Action:     action,
			Confidence: confidence,
		})
	}

	result := s.parse(resp.Content)
	result["pillar"] = string(s.cfg.Pillar)
	if err := rc.SetResponse(result); err != nil {
		return err
	}
	rc.AppendStep(StepSpecialist)
	return nil
}

// parse reads the reply as a JSON object, falling back to a result that
// wraps the fence-stripped text.
func (s *Specialist) parse(raw string) Result {
	if obj, ok := llm.DecodeObject(raw); ok {
		return Result(obj)
	}

	s.logger.Debug("Specialist reply is not JSON, using fallback", "pillar", s.cfg.Pillar)
	result := Result{
		"title":      s.cfg.FallbackTitle,
		"content":    llm.StripFence(raw),
		"suggestion": nil,
	}
	if s.cfg.ExtensionKey != "" {
		result[s.cfg.ExtensionKey] = nil
	}
	return result
}
