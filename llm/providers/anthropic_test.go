package providers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/c360studio/bloom/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_BuildURL(t *testing.T) {
	p := &AnthropicProvider{}

	assert.Equal(t, "https://api.anthropic.com/v1/messages", p.BuildURL(""))
	assert.Equal(t, "https://proxy.local/v1/messages", p.BuildURL("https://proxy.local/"))
}

func TestAnthropicProvider_SetHeaders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	p := &AnthropicProvider{}
	req := httptest.NewRequest("POST", "/", nil)
	p.SetHeaders(req)

	assert.Equal(t, "ak-test", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
}

func TestAnthropicProvider_BuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	parts := []llm.Part{
		llm.ImagePart("image/jpeg", []byte("jpg")),
		llm.TextPart("Describe the incision."),
	}
	temp := 0.2
	body, err := p.BuildRequestBody("claude-sonnet-4", parts, &temp, 0)
	require.NoError(t, err)

	var req anthropicRequest
	require.NoError(t, json.Unmarshal(body, &req))

	assert.Equal(t, "claude-sonnet-4", req.Model)
	assert.Equal(t, 4096, req.MaxTokens, "default max tokens")
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.2, *req.Temperature)

	require.Len(t, req.Messages, 1)
	blocks := req.Messages[0].Content
	require.Len(t, blocks, 2)

	assert.Equal(t, "image", blocks[0].Type)
	require.NotNil(t, blocks[0].Source)
	assert.Equal(t, "base64", blocks[0].Source.Type)
	assert.Equal(t, "image/jpeg", blocks[0].Source.MediaType)
	assert.Equal(t, "anBn", blocks[0].Source.Data)

	assert.Equal(t, "text", blocks[1].Type)
	assert.Equal(t, "Describe the incision.", blocks[1].Text)
}

func TestAnthropicProvider_ParseResponse(t *testing.T) {
	p := &AnthropicProvider{}

	body := []byte(`{
		"id": "msg_1",
		"model": "claude-sonnet-4",
		"content": [{"type": "text", "text": "Healing "}, {"type": "text", "text": "well."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`)

	resp, err := p.ParseResponse(body, "")
	require.NoError(t, err)
	assert.Equal(t, "Healing well.", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	_, err = p.ParseResponse([]byte(`{`), "")
	assert.Error(t, err)
}
