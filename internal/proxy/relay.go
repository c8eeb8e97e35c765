package proxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// maxCaptureBytes caps how much of the response body is retained for token
// extraction. The relay itself is unaffected; a transcript truncated at the
// cap simply degrades to zero-token logging.
const maxCaptureBytes = 1 << 20

// hopHeaders are never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// credentialHeaders carry inbound gateway authentication or stale upstream
// secrets; they are stripped before the provider scheme is injected.
var credentialHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"X-Goog-Api-Key",
	"Cookie",
}

// forwardHeaders copies inbound headers onto the outbound request, minus hop
// and credential headers.
func forwardHeaders(dst http.Header, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders)+len(credentialHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, h := range credentialHeaders {
		skip[h] = true
	}
	for name, values := range src {
		if skip[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// relayHeaders copies upstream response headers to the caller, minus hop
// headers.
func relayHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		hop := false
		for _, h := range hopHeaders {
			if canonical == h {
				hop = true
				break
			}
		}
		if hop {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// flushWriter flushes after every write so streamed responses relay chunk by
// chunk instead of being buffered; latency stays proportional to upstream,
// not to payload size.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	f, _ := w.(http.Flusher)
	return &flushWriter{w: w, f: f}
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

// captureWriter mirrors relayed bytes into a bounded buffer for later token
// extraction. Writes never fail and never block the relay.
type captureWriter struct {
	buf bytes.Buffer
}

func (cw *captureWriter) Write(p []byte) (int, error) {
	if remaining := maxCaptureBytes - cw.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			cw.buf.Write(p[:remaining])
		} else {
			cw.buf.Write(p)
		}
	}
	return len(p), nil
}

func (cw *captureWriter) Bytes() []byte {
	return cw.buf.Bytes()
}

// requestHints is the little we parse out of the inbound body: the model for
// pricing and max_tokens for the rate-limit estimate.
type requestHints struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

func parseHints(body []byte) requestHints {
	var hints requestHints
	if len(body) > 0 {
		// Best-effort; a non-JSON body just yields empty hints.
		_ = json.Unmarshal(body, &hints)
	}
	if hints.Model == "" {
		hints.Model = "unknown"
	}
	return hints
}

func isStreamContentType(ct string) bool {
	return strings.HasPrefix(ct, "text/event-stream")
}
