package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/model"
	"google.golang.org/genai"
)

// GeminiProvider calls Gemini through the genai SDK. Image parts are sent
// inline as bytes.
type GeminiProvider struct {
	// APIKey overrides GEMINI_API_KEY / GOOGLE_API_KEY when set.
	APIKey string

	// HTTPClient overrides the SDK's transport when set.
	HTTPClient *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func init() {
	llm.RegisterProvider(&GeminiProvider{})
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string {
	return "gemini"
}

func (g *GeminiProvider) apiKey() string {
	if g.APIKey != "" {
		return g.APIKey
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}

// client returns a cached SDK client per base URL.
func (g *GeminiProvider) client(ctx context.Context, baseURL string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[baseURL]; ok {
		return c, nil
	}

	key := g.apiKey()
	if key == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}

	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.HTTPClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if g.clients == nil {
		g.clients = make(map[string]*genai.Client)
	}
	g.clients[baseURL] = c
	return c, nil
}

// Generate sends the parts as a single user turn.
func (g *GeminiProvider) Generate(ctx context.Context, ep *model.EndpointConfig, req llm.Request) (*llm.Response, error) {
	c, err := g.client(ctx, ep.URL)
	if err != nil {
		return nil, llm.NewFatalError(err)
	}

	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsImage() {
			parts = append(parts, genai.NewPartFromBytes(p.Image.Data, p.Image.MIMEType))
			continue
		}
		parts = append(parts, genai.NewPartFromText(p.Text))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := c.Models.GenerateContent(ctx, ep.Model, contents, config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, llm.NewTransientError(errors.New("gemini returned no text"))
	}

	out := &llm.Response{
		Content: text,
		Model:   ep.Model,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.Code, []byte(apiErr.Message))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return llm.ClassifyStatus(apiErrPtr.Code, []byte(apiErrPtr.Message))
	}

	return llm.NewTransientError(fmt.Errorf("gemini API error: %w", err))
}
