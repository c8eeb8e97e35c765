package anthropic

import (
	"encoding/json"
	"net/http"

	"github.com/vnmchuo/ai-cost-gateway/internal/provider"
)

const apiVersion = "2023-06-01"

// Anthropic uses a custom-header credential scheme (x-api-key plus a pinned
// anthropic-version) and reports usage as input_tokens / output_tokens.
type Anthropic struct {
	baseURL string
}

type usagePayload struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type responsePayload struct {
	Model string        `json:"model"`
	Usage *usagePayload `json:"usage"`
}

type streamEvent struct {
	Type    string        `json:"type"`
	Usage   *usagePayload `json:"usage"`
	Message *struct {
		Model string        `json:"model"`
		Usage *usagePayload `json:"usage"`
	} `json:"message"`
}

func New() provider.Provider {
	return &Anthropic{baseURL: "https://api.anthropic.com"}
}

// NewWithBaseURL overrides the upstream base URL. Used in tests.
func NewWithBaseURL(baseURL string) provider.Provider {
	return &Anthropic{baseURL: baseURL}
}

func (p *Anthropic) Name() string {
	return "anthropic"
}

func (p *Anthropic) BaseURL() string {
	return p.baseURL
}

func (p *Anthropic) ApplyCredential(h http.Header, secret string) {
	h.Set("x-api-key", secret)
	h.Set("anthropic-version", apiVersion)
}

func (p *Anthropic) ExtractUsage(body []byte) (provider.Usage, bool) {
	if provider.IsEventStream(body) {
		return p.extractStream(body)
	}

	var resp responsePayload
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return provider.Usage{}, false
	}
	return provider.Usage{
		Model:            resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, true
}

// A streamed message reports input tokens on the message_start event and
// cumulative output tokens on message_delta events; the last delta wins.
func (p *Anthropic) extractStream(body []byte) (provider.Usage, bool) {
	var usage provider.Usage
	found := false
	provider.ScanEventData(body, func(data []byte) {
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Message != nil {
			if ev.Message.Model != "" {
				usage.Model = ev.Message.Model
			}
			if ev.Message.Usage != nil {
				usage.PromptTokens = ev.Message.Usage.InputTokens
				found = true
			}
		}
		if ev.Usage != nil {
			if ev.Usage.InputTokens > 0 {
				usage.PromptTokens = ev.Usage.InputTokens
			}
			if ev.Usage.OutputTokens > 0 {
				usage.CompletionTokens = ev.Usage.OutputTokens
			}
			found = true
		}
	})
	return usage, found
}
