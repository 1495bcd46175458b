package llm

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/c360studio/bloom/model"
)

// Provider is a named model backend. Concrete providers implement either
// HTTPProvider or Generator.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini", "ollama").
	Name() string
}

// HTTPProvider speaks a JSON-over-HTTP completion API. The client owns the
// transport; the provider only shapes the request and reads the reply.
type HTTPProvider interface {
	Provider

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers to the request.
	SetHeaders(req *http.Request)

	// BuildRequestBody creates the JSON request body. temperature is nil to
	// use the provider default.
	BuildRequestBody(model string, parts []Part, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)
}

// Generator owns its transport, typically through a vendor SDK.
// Errors should be classified with NewTransientError or NewFatalError.
type Generator interface {
	Provider

	Generate(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error)
}

var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry, replacing any
// provider with the same name.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names, sorted.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
