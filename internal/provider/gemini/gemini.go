package gemini

import (
	"encoding/json"
	"net/http"

	"github.com/vnmchuo/ai-cost-gateway/internal/provider"
)

// Gemini uses the x-goog-api-key header scheme and reports usage in a
// usageMetadata object with promptTokenCount / candidatesTokenCount.
type Gemini struct {
	baseURL string
}

type usageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
}

type responsePayload struct {
	ModelVersion  string         `json:"modelVersion"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

func New() provider.Provider {
	return &Gemini{baseURL: "https://generativelanguage.googleapis.com"}
}

// NewWithBaseURL overrides the upstream base URL. Used in tests.
func NewWithBaseURL(baseURL string) provider.Provider {
	return &Gemini{baseURL: baseURL}
}

func (p *Gemini) Name() string {
	return "gemini"
}

func (p *Gemini) BaseURL() string {
	return p.baseURL
}

func (p *Gemini) ApplyCredential(h http.Header, secret string) {
	h.Set("x-goog-api-key", secret)
}

func (p *Gemini) ExtractUsage(body []byte) (provider.Usage, bool) {
	if provider.IsEventStream(body) {
		return p.extractStream(body)
	}

	var resp responsePayload
	if err := json.Unmarshal(body, &resp); err != nil || resp.UsageMetadata == nil {
		return provider.Usage{}, false
	}
	return usageFrom(&resp), true
}

// Streamed chunks each carry a cumulative usageMetadata; the last one wins.
func (p *Gemini) extractStream(body []byte) (provider.Usage, bool) {
	var usage provider.Usage
	found := false
	provider.ScanEventData(body, func(data []byte) {
		var chunk responsePayload
		if err := json.Unmarshal(data, &chunk); err != nil {
			return
		}
		if chunk.UsageMetadata != nil {
			usage = usageFrom(&chunk)
			found = true
		}
	})
	return usage, found
}

func usageFrom(resp *responsePayload) provider.Usage {
	return provider.Usage{
		Model:            resp.ModelVersion,
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
}
