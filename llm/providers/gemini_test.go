package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiProvider_Registered(t *testing.T) {
	_, ok := llm.GetProvider("gemini").(llm.Generator)
	assert.True(t, ok)
}

func TestGeminiProvider_MissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	p := &GeminiProvider{}
	_, err := p.Generate(context.Background(), &model.EndpointConfig{Model: "gemini-2.0-flash"}, llm.Request{
		Parts: []llm.Part{llm.TextPart("hi")},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestGeminiProvider_Generate(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.0-flash:generateContent"), r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"title\": \"Rest\"}"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 4, "totalTokenCount": 14}
		}`)
	}))
	defer server.Close()

	p := &GeminiProvider{APIKey: "test-key", HTTPClient: server.Client()}
	resp, err := p.Generate(context.Background(),
		&model.EndpointConfig{Provider: "gemini", Model: "gemini-2.0-flash", URL: server.URL},
		llm.Request{Parts: []llm.Part{
			llm.ImagePart("image/jpeg", []byte("jpg")),
			llm.TextPart("What is happening?"),
		}},
	)
	require.NoError(t, err)

	assert.Equal(t, `{"title": "Rest"}`, resp.Content)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	contents, ok := gotBody["contents"].([]any)
	require.True(t, ok, "request carries contents")
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	assert.Len(t, parts, 2)
}

func TestGeminiProvider_ErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`)
	}))
	defer server.Close()

	p := &GeminiProvider{APIKey: "test-key", HTTPClient: server.Client()}
	_, err := p.Generate(context.Background(),
		&model.EndpointConfig{Provider: "gemini", Model: "gemini-2.0-flash", URL: server.URL},
		llm.Request{Parts: []llm.Part{llm.TextPart("hi")}},
	)
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err), "rate limits are transient: %v", err)
}
