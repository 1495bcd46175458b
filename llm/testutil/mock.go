// Package testutil provides test utilities for the llm package.
// It includes a scripted model client for exercising pipeline stages.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/c360studio/bloom/llm"
)

// Step is one scripted reply. If Err is set it is returned instead of Content.
type Step struct {
	Content string
	Err     error
}

// Reply returns a successful step.
func Reply(content string) Step { return Step{Content: content} }

// Fail returns a failing step.
func Fail(err error) Step { return Step{Err: err} }

// ErrExhausted is returned when a mock runs past its script.
var ErrExhausted = errors.New("mock model: script exhausted")

// MockLLMClient is a thread-safe scripted model client. It captures every
// request for later assertions.
//
// Usage:
//
//	mock := &MockLLMClient{Script: []Step{
//	    Reply(`{"task": "baby.sleep_guidance", "reasoning": "sleep"}`),
//	    Reply(`{"title": "Sleep", "content": "..."}`),
//	}}
//
// With Respond set, the script is ignored and Respond decides each reply,
// which suits concurrent tests where call order is not fixed.
type MockLLMClient struct {
	mu       sync.Mutex
	Script   []Step
	Respond  func(req llm.Request) Step
	Err      error // returned for every call when set
	requests []llm.Request
	contexts []context.Context
	index    int
}

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.contexts = append(m.contexts, ctx)

	var step Step
	switch {
	case m.Err != nil:
		step = Step{Err: m.Err}
	case m.Respond != nil:
		respond := m.Respond
		m.mu.Unlock()
		step = respond(req)
		m.mu.Lock()
	case m.index < len(m.Script):
		step = m.Script[m.index]
		m.index++
	default:
		step = Step{Err: ErrExhausted}
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &llm.Response{Content: step.Content, Model: "test-model"}, nil
}

// Requests returns a copy of every captured request, in call order.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// Request returns the i-th captured request.
func (m *MockLLMClient) Request(i int) llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// GetCapturedContext returns the last context passed to Complete.
func (m *MockLLMClient) GetCapturedContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

// GetCallCount returns the number of times Complete was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
