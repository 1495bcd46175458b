package llm

import (
	"context"
	"fmt"

	"github.com/c360studio/bloom/model"
)

// Completer is the model call used by pipeline stages. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

const confidencePrompt = `You were asked:

%s

You answered:

%s

In two short sentences, rate your confidence in that answer as high, medium, or low, and name the one piece of information that would most change it.`

// ConfidenceRequest builds the follow-up call that asks the model to rate
// its own answer. It is always text-only.
func ConfidenceRequest(orig Request, answer string) Request {
	return Request{
		Capability:  model.CapabilitySupport,
		Parts:       []Part{TextPart(fmt.Sprintf(confidencePrompt, PromptText(orig.Parts), answer))},
		Temperature: orig.Temperature,
	}
}

// CompleteWithConfidence issues req, then a dependent call asking the model
// to self-rate the answer. It returns the answer and the confidence text.
// A failure of either call is returned as is; callers cannot tell which
// call failed.
func CompleteWithConfidence(ctx context.Context, c Completer, req Request) (*Response, string, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, "", err
	}

	conf, err := c.Complete(WithStage(ctx, "confidence"), ConfidenceRequest(req, resp.Content))
	if err != nil {
		return nil, "", err
	}

	return resp, conf.Content, nil
}
