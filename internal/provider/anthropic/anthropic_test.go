package anthropic

import (
	"net/http"
	"testing"
)

func TestApplyCredential(t *testing.T) {
	p := New()
	h := http.Header{}
	p.ApplyCredential(h, "sk-ant-test")

	if got := h.Get("x-api-key"); got != "sk-ant-test" {
		t.Errorf("Expected x-api-key header, got %q", got)
	}
	if got := h.Get("anthropic-version"); got != apiVersion {
		t.Errorf("Expected pinned anthropic-version, got %q", got)
	}
	if h.Get("Authorization") != "" {
		t.Error("Anthropic must not use the Authorization header")
	}
}

func TestExtractUsage_JSON(t *testing.T) {
	p := New()
	body := []byte(`{
		"id": "msg_1",
		"model": "claude-3-opus-20240229",
		"content": [{"type": "text", "text": "hi"}],
		"usage": {"input_tokens": 800, "output_tokens": 150}
	}`)

	usage, ok := p.ExtractUsage(body)
	if !ok {
		t.Fatal("Expected usage to be extracted")
	}
	if usage.Model != "claude-3-opus-20240229" {
		t.Errorf("Unexpected model %q", usage.Model)
	}
	if usage.PromptTokens != 800 || usage.CompletionTokens != 150 {
		t.Errorf("Expected 800/150 tokens, got %d/%d", usage.PromptTokens, usage.CompletionTokens)
	}
}

func TestExtractUsage_Stream(t *testing.T) {
	p := New()
	body := []byte("event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-3-haiku-20240307\",\"usage\":{\"input_tokens\":25,\"output_tokens\":1}}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":42}}\n\n" +
		"event: message_stop\n" +
		"data: {\"type\":\"message_stop\"}\n\n")

	usage, ok := p.ExtractUsage(body)
	if !ok {
		t.Fatal("Expected usage from stream events")
	}
	if usage.Model != "claude-3-haiku-20240307" {
		t.Errorf("Unexpected model %q", usage.Model)
	}
	if usage.PromptTokens != 25 {
		t.Errorf("Expected 25 input tokens from message_start, got %d", usage.PromptTokens)
	}
	if usage.CompletionTokens != 42 {
		t.Errorf("Expected 42 output tokens from the last message_delta, got %d", usage.CompletionTokens)
	}
}

func TestExtractUsage_MalformedBody(t *testing.T) {
	p := New()
	if _, ok := p.ExtractUsage([]byte("not json")); ok {
		t.Error("Expected no usage from malformed body")
	}
}
