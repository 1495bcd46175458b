package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/bloom/llm"
	_ "github.com/c360studio/bloom/llm/providers" // register providers
	"github.com/c360studio/bloom/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	})
}

// testRegistry maps every capability to the given endpoints, in order.
func testRegistry(urls ...string) *model.Registry {
	names := make([]string, 0, len(urls))
	endpoints := make(map[string]*model.EndpointConfig, len(urls))
	for i, u := range urls {
		name := []string{"primary", "secondary", "tertiary"}[i]
		names = append(names, name)
		endpoints[name] = &model.EndpointConfig{Provider: "ollama", URL: u, Model: name, Vision: true}
	}
	caps := map[model.Capability]*model.CapabilityConfig{
		model.CapabilityRouting: {Preferred: names[:1], Fallback: names[1:]},
		model.CapabilitySupport: {Preferred: names[:1], Fallback: names[1:]},
		model.CapabilityVision:  {Preferred: names[:1], Fallback: names[1:]},
	}
	return model.NewRegistry(caps, endpoints)
}

func textRequest(capability model.Capability, text string) llm.Request {
	return llm.Request{Capability: capability, Parts: []llm.Part{llm.TextPart(text)}}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		openAIReply(w, "Hello! How can I help you?")
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL))

	resp, err := client.Complete(context.Background(), textRequest(model.CapabilitySupport, "Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you?", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_Complete_DefaultIsSingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL))

	_, err := client.Complete(context.Background(), textRequest(model.CapabilityRouting, "Test"))
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "a failed call is not retried by default")
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service temporarily unavailable"))
			return
		}
		openAIReply(w, "Success after retries")
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL), llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       10 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxBackoff:        100 * time.Millisecond,
	}))

	resp, err := client.Complete(context.Background(), textRequest(model.CapabilitySupport, "Test"))
	require.NoError(t, err)
	assert.Equal(t, "Success after retries", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Complete_NoRetryOnFatalError(t *testing.T) {
	var attempts, fallbackAttempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Invalid API key"))
	}))
	defer server.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackAttempts.Add(1)
		openAIReply(w, "unreachable")
	}))
	defer fallback.Close()

	client := llm.NewClient(testRegistry(server.URL, fallback.URL), llm.WithRetryConfig(llm.RetryConfig{MaxAttempts: 3}))

	_, err := client.Complete(context.Background(), textRequest(model.CapabilitySupport, "Test"))
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, int32(0), fallbackAttempts.Load(), "fatal errors skip fallbacks")
}

func TestClient_Complete_Fallback(t *testing.T) {
	var primaryAttempts atomic.Int32

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryAttempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		openAIReply(w, "from fallback")
	}))
	defer secondary.Close()

	registry := testRegistry(primary.URL, secondary.URL)
	client := llm.NewClient(registry)

	resp, err := client.Complete(context.Background(), textRequest(model.CapabilitySupport, "Test"))
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, int32(1), primaryAttempts.Load())

	health := registry.GetEndpointHealth("primary")
	require.NotNil(t, health)
	assert.Equal(t, 1, health.FailureCount)
}

func TestClient_Complete_AllEndpointsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL, server.URL))

	_, err := client.Complete(context.Background(), textRequest(model.CapabilitySupport, "Test"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all endpoints failed")
	assert.True(t, llm.IsTransient(err))
}

func TestClient_Complete_ImageUsesVisionChain(t *testing.T) {
	var textHits, visionHits atomic.Int32
	textOnly := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		textHits.Add(1)
		openAIReply(w, "text")
	}))
	defer textOnly.Close()
	vision := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visionHits.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "image_url")
		openAIReply(w, "vision")
	}))
	defer vision.Close()

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityRouting: {Preferred: []string{"text"}},
			// A text-only endpoint in the vision chain is skipped for image calls.
			model.CapabilityVision: {Preferred: []string{"text", "eyes"}},
		},
		map[string]*model.EndpointConfig{
			"text": {Provider: "ollama", URL: textOnly.URL, Model: "text"},
			"eyes": {Provider: "ollama", URL: vision.URL, Model: "eyes", Vision: true},
		},
	)
	client := llm.NewClient(registry)

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: model.CapabilityRouting,
		Parts:      []llm.Part{llm.ImagePart("image/jpeg", []byte("jpg")), llm.TextPart("route me")},
	})
	require.NoError(t, err)
	assert.Equal(t, "vision", resp.Content)
	assert.Equal(t, int32(0), textHits.Load())
	assert.Equal(t, int32(1), visionHits.Load())
}

func TestClient_Complete_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, textRequest(model.CapabilitySupport, "Test"))
	require.Error(t, err)
}

func TestClient_Complete_ValidationErrors(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())

	_, err := client.Complete(context.Background(), llm.Request{Capability: model.CapabilitySupport})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestClient_Complete_UnknownProvider(t *testing.T) {
	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilitySupport: {Preferred: []string{"mystery"}},
		},
		map[string]*model.EndpointConfig{
			"mystery": {Provider: "carrier-pigeon", Model: "coo"},
		},
	)
	client := llm.NewClient(registry)

	_, err := client.Complete(context.Background(), textRequest(model.CapabilitySupport, "Test"))
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

type recordingPublisher struct {
	mu   sync.Mutex
	recs []llm.CallRecord
}

func (p *recordingPublisher) Publish(_ string, data []byte) error {
	var rec llm.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

type countingObserver struct {
	calls, failures atomic.Int32
}

func (o *countingObserver) ObserveCall(_, _ string, _ time.Duration, err error) {
	o.calls.Add(1)
	if err != nil {
		o.failures.Add(1)
	}
}

func TestClient_Complete_RecordsCalls(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		openAIReply(w, "recorded")
	}))
	defer server.Close()

	pub := &recordingPublisher{}
	store, err := llm.NewCallStore(pub)
	require.NoError(t, err)
	obs := &countingObserver{}

	client := llm.NewClient(testRegistry(server.URL), llm.WithCallStore(store), llm.WithObserver(obs))

	ctx := llm.WithTraceContext(context.Background(), llm.TraceContext{TraceID: "trace-1", RunID: "run-1", Stage: "router"})
	_, err = client.Complete(ctx, textRequest(model.CapabilityRouting, "route this"))
	require.NoError(t, err)

	fail.Store(true)
	_, err = client.Complete(llm.WithStage(ctx, "specialist"), textRequest(model.CapabilitySupport, "answer this"))
	require.Error(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.recs, 2)

	ok := pub.recs[0]
	assert.Equal(t, "run-1", ok.RunID)
	assert.Equal(t, "router", ok.Stage)
	assert.Equal(t, "routing", ok.Capability)
	assert.Equal(t, "route this", ok.Prompt)
	assert.Equal(t, "recorded", ok.Response)
	assert.Equal(t, 18, ok.TotalTokens)
	assert.Empty(t, ok.Error)

	failed := pub.recs[1]
	assert.Equal(t, "specialist", failed.Stage)
	assert.NotEmpty(t, failed.Error)

	assert.Equal(t, int32(2), obs.calls.Load())
	assert.Equal(t, int32(1), obs.failures.Load())
}

type scripted struct {
	replies []string
	errs    []error
	reqs    []llm.Request
}

func (s *scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	i := len(s.reqs)
	s.reqs = append(s.reqs, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &llm.Response{Content: s.replies[i]}, nil
}

func TestCompleteWithConfidence(t *testing.T) {
	s := &scripted{replies: []string{`{"title": "ok"}`, "High. A photo would help."}}

	req := llm.Request{
		Capability: model.CapabilitySupport,
		Parts:      []llm.Part{llm.ImagePart("image/jpeg", []byte("x")), llm.TextPart("How is it healing?")},
	}
	resp, conf, err := llm.CompleteWithConfidence(context.Background(), s, req)
	require.NoError(t, err)
	assert.Equal(t, `{"title": "ok"}`, resp.Content)
	assert.Equal(t, "High. A photo would help.", conf)

	require.Len(t, s.reqs, 2)
	follow := s.reqs[1]
	assert.Equal(t, 0, llm.ImageCount(follow.Parts), "confidence call is text-only")
	assert.Contains(t, llm.PromptText(follow.Parts), "How is it healing?")
	assert.Contains(t, llm.PromptText(follow.Parts), `{"title": "ok"}`)
}

func TestCompleteWithConfidence_EitherFailureIsOneFailure(t *testing.T) {
	boom := errors.New("boom")

	for name, errs := range map[string][]error{
		"answer call":     {boom},
		"confidence call": {nil, boom},
	} {
		t.Run(name, func(t *testing.T) {
			s := &scripted{replies: []string{"answer", "conf"}, errs: errs}
			resp, conf, err := llm.CompleteWithConfidence(context.Background(), s, textRequest(model.CapabilitySupport, "q"))
			assert.ErrorIs(t, err, boom)
			assert.Nil(t, resp)
			assert.Empty(t, conf)
		})
	}
}
