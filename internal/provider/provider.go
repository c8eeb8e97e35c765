package provider

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
)

// Usage is what a provider reports having consumed for one call.
type Usage struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// Provider is the per-upstream strategy object: where to forward, how to
// authenticate, and how to read token usage out of a response body. New
// providers are added by registering another implementation, the proxy loop
// never changes.
type Provider interface {
	Name() string
	BaseURL() string
	// ApplyCredential injects the provider's credential header scheme.
	ApplyCredential(h http.Header, secret string)
	// ExtractUsage parses a response body (plain JSON or a captured SSE
	// transcript) for token counts. ok=false means the body carried no
	// usable usage and the call is logged with zero tokens.
	ExtractUsage(body []byte) (Usage, bool)
}

// Registry maps URL provider segments to strategies.
type Registry struct {
	providers map[string]Provider
	names     []string
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
		r.names = append(r.names, p.Name())
	}
	return r
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	return r.names
}

// IsEventStream reports whether a body looks like an SSE transcript rather
// than a single JSON document.
func IsEventStream(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("data:")) || bytes.HasPrefix(trimmed, []byte("event:"))
}

// ScanEventData calls fn with the payload of every "data:" line in an SSE
// transcript, skipping the terminal [DONE] marker. Used by extractors to find
// the trailing usage chunk of a streamed response.
func ScanEventData(body []byte, fn func(data []byte)) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		fn([]byte(data))
	}
}
