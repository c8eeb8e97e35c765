package gemini

import (
	"net/http"
	"testing"
)

func TestApplyCredential(t *testing.T) {
	p := New()
	h := http.Header{}
	p.ApplyCredential(h, "AIza-test")

	if got := h.Get("x-goog-api-key"); got != "AIza-test" {
		t.Errorf("Expected x-goog-api-key header, got %q", got)
	}
}

func TestExtractUsage_JSON(t *testing.T) {
	p := New()
	body := []byte(`{
		"candidates": [{"content": {"parts": [{"text": "hi"}]}}],
		"modelVersion": "gemini-1.5-pro",
		"usageMetadata": {"promptTokenCount": 300, "candidatesTokenCount": 90, "totalTokenCount": 390}
	}`)

	usage, ok := p.ExtractUsage(body)
	if !ok {
		t.Fatal("Expected usage to be extracted")
	}
	if usage.Model != "gemini-1.5-pro" {
		t.Errorf("Unexpected model %q", usage.Model)
	}
	if usage.PromptTokens != 300 || usage.CompletionTokens != 90 {
		t.Errorf("Expected 300/90 tokens, got %d/%d", usage.PromptTokens, usage.CompletionTokens)
	}
}

func TestExtractUsage_StreamLastChunkWins(t *testing.T) {
	p := New()
	body := []byte("data: {\"usageMetadata\":{\"promptTokenCount\":300,\"candidatesTokenCount\":10}}\n\n" +
		"data: {\"modelVersion\":\"gemini-1.5-flash\",\"usageMetadata\":{\"promptTokenCount\":300,\"candidatesTokenCount\":55}}\n\n")

	usage, ok := p.ExtractUsage(body)
	if !ok {
		t.Fatal("Expected usage from stream")
	}
	if usage.CompletionTokens != 55 {
		t.Errorf("Expected cumulative count from the last chunk, got %d", usage.CompletionTokens)
	}
}

func TestExtractUsage_MissingMetadata(t *testing.T) {
	p := New()
	if _, ok := p.ExtractUsage([]byte(`{"candidates": []}`)); ok {
		t.Error("Expected no usage without usageMetadata")
	}
}
