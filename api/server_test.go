package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/llm/testutil"
	"github.com/c360studio/bloom/model"
	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/storage"
	"github.com/c360studio/bloom/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sseEvent struct {
	Type string
	Data string
}

// readSSE parses an event stream into events.
func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Type != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func types(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func newTestServer(mock *testutil.MockLLMClient, opts ...Option) *Server {
	orch := pipeline.NewOrchestrator(mock, task.Default())
	return NewServer(orch, opts...)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/bloom", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBloom_StreamsRoutedAndResult(t *testing.T) {
	mock := &testutil.MockLLMClient{Respond: func(req llm.Request) testutil.Step {
		switch {
		case req.Capability == model.CapabilityRouting:
			return testutil.Reply(`{"task": "baby.sleep_guidance", "reasoning": "sleep question"}`)
		case strings.Contains(llm.PromptText(req.Parts), "You answered:"):
			return testutil.Reply("high")
		default:
			return testutil.Reply(`{"title": "Newborn sleep", "content": "It is normal.", "suggestion": null, "babyReadout": null}`)
		}
	}}
	s := newTestServer(mock)

	rec := post(t, s.Handler(), `{"message": "she wakes every hour", "pillar": "baby", "context": {"baby_name": "Ada"}, "image_data": null}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, rec.Flushed)

	events := readSSE(t, rec.Body)
	require.Equal(t, []string{"status", "routed", "result"}, types(events))
	assert.JSONEq(t, `{"message": "Thinking..."}`, events[0].Data)
	assert.JSONEq(t, `{"pillar": "baby", "action": "sleep_guidance", "reasoning": "sleep question"}`, events[1].Data)
	assert.JSONEq(t, `{"title": "Newborn sleep", "content": "It is normal.", "suggestion": null, "babyReadout": null, "pillar": "baby"}`, events[2].Data)
}

func TestBloom_RouterFailure(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: errors.New("model unavailable")}
	s := newTestServer(mock)

	rec := post(t, s.Handler(), `{"message": "hi"}`)

	events := readSSE(t, rec.Body)
	require.Equal(t, []string{"status", "error"}, types(events))
	assert.JSONEq(t, `{"error": "model unavailable"}`, events[1].Data)
}

func TestBloom_BadImage(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{})

	rec := post(t, s.Handler(), `{"message": "look", "image_data": "!!!"}`)

	events := readSSE(t, rec.Body)
	require.Equal(t, []string{"status", "error"}, types(events))

	var data pipeline.ErrorData
	require.NoError(t, json.Unmarshal([]byte(events[1].Data), &data))
	assert.True(t, strings.HasPrefix(data.Error, "Image decode failed: "), data.Error)
}

func TestBloom_InvalidBody(t *testing.T) {
	for name, body := range map[string]string{
		"truncated":  `{"message": `,
		"wrong type": `{"message": 42}`,
		"not object": `["hi"]`,
		"empty":      ``,
	} {
		t.Run(name, func(t *testing.T) {
			mock := &testutil.MockLLMClient{}
			rec := post(t, newTestServer(mock).Handler(), body)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
			events := readSSE(t, rec.Body)
			require.Equal(t, []string{pipeline.EventStatus, pipeline.EventError}, types(events))
			assert.JSONEq(t, `{"message": "Thinking..."}`, events[0].Data)
			assert.JSONEq(t, `{"error": "Invalid request body"}`, events[1].Data)
			assert.Equal(t, 0, mock.GetCallCount())
		})
	}
}

func TestBloom_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bloom", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{}, WithAllowedOrigin("https://app.example"))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/bloom", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestHealth(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "app": "bloom"}`, rec.Body.String())
}

func TestRoutes(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/routes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RoutesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 16, resp.Total)
	assert.Equal(t, "mind.mood_checkin", resp.Routes[0].Name)
	assert.True(t, resp.Routes[5].RequiresImage)
}

func TestMetricsMount(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s = newTestServer(&testutil.MockLLMClient{}, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "bloom_runs_total 0\n")
	})))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bloom_runs_total")
}

func TestBloom_OverRealConnection(t *testing.T) {
	mock := &testutil.MockLLMClient{Script: []testutil.Step{
		testutil.Reply(`{"task": "mind.mood_checkin", "reasoning": "mood"}`),
		testutil.Reply(`{"title": "How you're feeling", "content": "That sounds hard.", "moodInsight": null}`),
	}}
	ts := httptest.NewServer(newTestServer(mock).Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/bloom", "application/json", strings.NewReader(`{"message": "rough day"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	events := readSSE(t, resp.Body)
	assert.Equal(t, []string{"status", "routed", "result"}, types(events))
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(&testutil.MockLLMClient{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

type fakeRuns struct {
	runs map[string]*pipeline.RunRecord
	err  error
}

func (f *fakeRuns) Get(_ context.Context, id string) (*pipeline.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id == "bad id" {
		return nil, storage.ErrInvalidID
	}
	rec, ok := f.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]*pipeline.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*pipeline.RunRecord, 0, len(f.runs))
	for _, rec := range f.runs {
		out = append(out, rec)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: map[string]*pipeline.RunRecord{
		"run-1": {RunID: "run-1", Outcome: pipeline.OutcomeSuccess, Steps: []string{"router", "mind"}},
	}}
	h := newTestServer(&testutil.MockLLMClient{}, WithRunLookup(runs)).Handler()

	rec := get(h, "/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got pipeline.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []string{"router", "mind"}, got.Steps)

	assert.Equal(t, http.StatusNotFound, get(h, "/runs/run-2").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/runs/bad%20id").Code)

	rec = get(h, "/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var list RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	assert.Equal(t, http.StatusBadRequest, get(h, "/runs?limit=zero").Code)
}

func TestRuns_StoreFailure(t *testing.T) {
	h := newTestServer(&testutil.MockLLMClient{}, WithRunLookup(&fakeRuns{err: errors.New("kv down")})).Handler()

	assert.Equal(t, http.StatusInternalServerError, get(h, "/runs/run-1").Code)
	assert.Equal(t, http.StatusInternalServerError, get(h, "/runs").Code)
}

func TestRuns_NotMountedByDefault(t *testing.T) {
	h := newTestServer(&testutil.MockLLMClient{}).Handler()
	assert.Equal(t, http.StatusNotFound, get(h, "/runs/run-1").Code)
}
