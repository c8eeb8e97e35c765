package openai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vnmchuo/ai-cost-gateway/internal/provider"
)

// OpenAI uses a bearer-token credential scheme and reports usage as
// prompt_tokens / completion_tokens.
type OpenAI struct {
	baseURL string
}

type usagePayload struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type responsePayload struct {
	Model string        `json:"model"`
	Usage *usagePayload `json:"usage"`
}

func New() provider.Provider {
	return &OpenAI{baseURL: "https://api.openai.com"}
}

// NewWithBaseURL overrides the upstream base URL. Used in tests.
func NewWithBaseURL(baseURL string) provider.Provider {
	return &OpenAI{baseURL: baseURL}
}

func (p *OpenAI) Name() string {
	return "openai"
}

func (p *OpenAI) BaseURL() string {
	return p.baseURL
}

func (p *OpenAI) ApplyCredential(h http.Header, secret string) {
	h.Set("Authorization", fmt.Sprintf("Bearer %s", secret))
}

func (p *OpenAI) ExtractUsage(body []byte) (provider.Usage, bool) {
	if provider.IsEventStream(body) {
		return p.extractStream(body)
	}

	var resp responsePayload
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return provider.Usage{}, false
	}
	return provider.Usage{
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, true
}

// Streamed completions only carry usage when the client requested it via
// stream_options; it arrives in a trailing chunk. Absent that, the call is
// logged with zero tokens.
func (p *OpenAI) extractStream(body []byte) (provider.Usage, bool) {
	var usage provider.Usage
	found := false
	provider.ScanEventData(body, func(data []byte) {
		var chunk responsePayload
		if err := json.Unmarshal(data, &chunk); err != nil {
			return
		}
		if chunk.Model != "" {
			usage.Model = chunk.Model
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			found = true
		}
	})
	return usage, found
}
