// Package main implements a mock LLM server for running bloom offline.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files, so `bloom serve` can be pointed at it through an "openai" or
// "ollama" endpoint and exercised end to end without a real model.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Each call is classified by its prompt as a router, specialist, or
// confidence call. A fixture is chosen by the first name that exists:
//
//	<model>.<kind>   e.g. "mock-flash.router.json"
//	<kind>           e.g. "router.json", "confidence.txt"
//	<model>          e.g. "mock-flash.json"
//
// Fixtures are .json (validated) or .txt (sent verbatim, for plain-text
// confidence ratings and malformed-output tests).
//
// Sequential fixtures: if numbered files exist (e.g. "router.1.json",
// "router.2.json"), the Nth call for that name returns the Nth fixture.
// After the numbered fixtures run out the base file repeats; without a base
// file the last numbered fixture repeats.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Call kinds, derived from the prompt text.
const (
	kindRouter     = "router"
	kindSpecialist = "specialist"
	kindConfidence = "confidence"
)

// Prompt markers. The router prompt lists the tasks to pick from; the
// confidence follow-up quotes the earlier answer.
const (
	routerMarker     = "AVAILABLE TASKS"
	confidenceMarker = "You answered:"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// chatMessage content is a string for text prompts and an array of parts
// when images are attached.
type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// text flattens the message content and counts image parts.
func (m chatMessage) text() (string, int, error) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s, 0, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return "", 0, fmt.Errorf("content is neither a string nor a part array: %w", err)
	}
	var (
		b      strings.Builder
		images int
	)
	for _, p := range parts {
		switch p.Type {
		case "text":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		case "image_url":
			images++
		}
	}
	return b.String(), images, nil
}

type replyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      replyMessage `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// classify names the kind of call a prompt belongs to.
func classify(prompt string) string {
	switch {
	case strings.Contains(prompt, confidenceMarker):
		return kindConfidence
	case strings.Contains(prompt, routerMarker):
		return kindRouter
	default:
		return kindSpecialist
	}
}

// --- Server ---

// capturedRequest stores the key fields of an incoming call for test verification.
type capturedRequest struct {
	Model     string `json:"model"`
	Kind      string `json:"kind"`
	Fixture   string `json:"fixture"`
	Prompt    string `json:"prompt"`
	Images    int    `json:"images"`
	CallIndex int    `json:"call_index"` // 1-indexed per-fixture call number
	Timestamp int64  `json:"timestamp"`
}

type server struct {
	fixtures map[string][]string // fixture name → ordered contents (sequential)
	calls    atomic.Int64        // total calls served
	logger   *slog.Logger

	// Per-fixture call counters for sequential selection.
	fixtureCalls   map[string]*atomic.Int64
	fixtureCallsMu sync.Mutex // protects lazy init of fixtureCalls entries

	requests   []capturedRequest
	requestsMu sync.Mutex
}

func newServer(fixtures map[string][]string, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:     fixtures,
		logger:       logger,
		fixtureCalls: make(map[string]*atomic.Int64),
	}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

// counter returns the call counter for a fixture, creating it lazily.
func (s *server) counter(name string) *atomic.Int64 {
	s.fixtureCallsMu.Lock()
	defer s.fixtureCallsMu.Unlock()
	if c, ok := s.fixtureCalls[name]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.fixtureCalls[name] = c
	return c
}

// resolve picks the fixture name for a call.
func (s *server) resolve(model, kind string) (string, bool) {
	for _, name := range []string{model + "." + kind, kind, model} {
		if _, ok := s.fixtures[name]; ok {
			return name, true
		}
	}
	return "", false
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Allow env var override
	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	logger.Info("Loaded fixtures", "count", len(fixtures), "dir", *fixtureDir)
	for name, seq := range fixtures {
		logger.Info("Fixture", "name", name, "sequence", len(seq))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := newServer(fixtures, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Mock LLM server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages must not be empty", http.StatusBadRequest)
		return
	}

	prompt, images, err := req.Messages[len(req.Messages)-1].text()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	kind := classify(prompt)

	name, ok := s.resolve(req.Model, kind)
	if !ok {
		s.logger.Warn("No fixture for call", "call", callNum, "model", req.Model, "kind", kind)
		http.Error(w, fmt.Sprintf("no fixture for model %q kind %q", req.Model, kind), http.StatusNotFound)
		return
	}

	// Select fixture from sequence based on per-fixture call count
	seq := s.fixtures[name]
	callIndex := int(s.counter(name).Add(1) - 1) // 0-indexed
	content := seq[len(seq)-1]
	if callIndex < len(seq) {
		content = seq[callIndex]
	}

	s.requestsMu.Lock()
	s.requests = append(s.requests, capturedRequest{
		Model:     req.Model,
		Kind:      kind,
		Fixture:   name,
		Prompt:    prompt,
		Images:    images,
		CallIndex: callIndex + 1,
		Timestamp: time.Now().UnixMilli(),
	})
	s.requestsMu.Unlock()

	s.logger.Info("Served call",
		"call", callNum,
		"model", req.Model,
		"kind", kind,
		"fixture", name,
		"index", callIndex+1,
		"images", images,
		"bytes", len(content))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      replyMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(prompt) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(prompt) + len(content)) / 4,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleModels lists fixture names as models (Ollama-compatible).
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.fixtureCallsMu.Lock()
	byFixture := make(map[string]int64, len(s.fixtureCalls))
	for name, counter := range s.fixtureCalls {
		byFixture[name] = counter.Load()
	}
	s.fixtureCallsMu.Unlock()

	s.requestsMu.Lock()
	byKind := make(map[string]int64)
	for _, req := range s.requests {
		byKind[req.Kind]++
	}
	s.requestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":      s.calls.Load(),
		"calls_by_fixture": byFixture,
		"calls_by_kind":    byKind,
	})
}

// handleRequests returns captured calls for test assertions.
// Query params:
//   - kind: filter by call kind (router, specialist, confidence)
//   - model: filter by model name
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	kindFilter := r.URL.Query().Get("kind")
	modelFilter := r.URL.Query().Get("model")

	s.requestsMu.Lock()
	result := make([]capturedRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if kindFilter != "" && req.Kind != kindFilter {
			continue
		}
		if modelFilter != "" && req.Model != modelFilter {
			continue
		}
		result = append(result, req)
	}
	s.requestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requests": result})
}

// numberedFileRe matches files like "router.1.json" or "confidence.2.txt".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.(json|txt)$`)

// loadFixtures reads .json and .txt files from dir and returns a map of
// fixture name → content sequence.
//
// For each name, fixtures are ordered:
//  1. Numbered files (name.1.json, name.2.txt, ...) in numeric order
//  2. Base file (name.json or name.txt) appended as the final fallback
func loadFixtures(dir string) (map[string][]string, error) {
	baseFiles := make(map[string]string)             // name → content
	numberedFiles := make(map[string]map[int]string) // name → {index → content}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(d.Name())
		if d.IsDir() || (ext != ".json" && ext != ".txt") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if ext == ".json" && !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}
		content := string(data)

		// Check for numbered pattern: name.N.ext
		if matches := numberedFileRe.FindStringSubmatch(d.Name()); matches != nil {
			name := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numberedFiles[name] == nil {
				numberedFiles[name] = make(map[int]string)
			}
			numberedFiles[name][index] = content
			return nil
		}

		name := strings.TrimSuffix(d.Name(), ext)
		if _, dup := baseFiles[name]; dup {
			return fmt.Errorf("duplicate fixture %q in %s", name, path)
		}
		baseFiles[name] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)

	allNames := make(map[string]bool)
	for n := range baseFiles {
		allNames[n] = true
	}
	for n := range numberedFiles {
		allNames[n] = true
	}

	for name := range allNames {
		var seq []string

		if numbered, ok := numberedFiles[name]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}

		// Append base file as fallback
		if base, ok := baseFiles[name]; ok {
			seq = append(seq, base)
		}

		if len(seq) > 0 {
			fixtures[name] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}

	return fixtures, nil
}
