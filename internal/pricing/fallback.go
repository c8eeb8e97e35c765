package pricing

import "github.com/shopspring/decimal"

type fallbackRate struct {
	prompt     string
	completion string
}

// fallbackRates is the built-in rate table used when the database has no
// entry for a model. Rates are USD per 1k tokens.
var fallbackRates = map[string]map[string]fallbackRate{
	"openai": {
		"gpt-4":             {prompt: "0.03", completion: "0.06"},
		"gpt-4-turbo":       {prompt: "0.01", completion: "0.03"},
		"gpt-4o":            {prompt: "0.0025", completion: "0.01"},
		"gpt-4o-mini":       {prompt: "0.00015", completion: "0.0006"},
		"gpt-3.5-turbo":     {prompt: "0.0015", completion: "0.002"},
		"gpt-3.5-turbo-16k": {prompt: "0.003", completion: "0.004"},
	},
	"anthropic": {
		"claude-3-opus-20240229":   {prompt: "0.015", completion: "0.075"},
		"claude-3-sonnet-20240229": {prompt: "0.003", completion: "0.015"},
		"claude-3-haiku-20240307":  {prompt: "0.00025", completion: "0.00125"},
	},
	"gemini": {
		"gemini-1.5-pro":   {prompt: "0.00125", completion: "0.005"},
		"gemini-1.5-flash": {prompt: "0.000075", completion: "0.0003"},
		"gemini-2.0-flash": {prompt: "0.0001", completion: "0.0004"},
	},
}

// FallbackEntry returns the built-in rate for (provider, model), or nil when
// the model is unknown. The synthesized entry carries id 0 so it can never be
// mistaken for a stored row.
func FallbackEntry(provider, model string) *Entry {
	models, ok := fallbackRates[provider]
	if !ok {
		return nil
	}
	rate, ok := models[model]
	if !ok {
		return nil
	}
	return &Entry{
		Provider:        provider,
		Model:           model,
		PromptPer1K:     decimal.RequireFromString(rate.prompt),
		CompletionPer1K: decimal.RequireFromString(rate.completion),
		Active:          true,
	}
}

// FallbackEntries lists every built-in rate, used to complete the model
// catalog for cost comparison.
func FallbackEntries() []*Entry {
	var entries []*Entry
	for provider, models := range fallbackRates {
		for model := range models {
			entries = append(entries, FallbackEntry(provider, model))
		}
	}
	return entries
}
