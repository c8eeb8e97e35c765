package cost

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/ai-cost-gateway/internal/pricing"
	"github.com/vnmchuo/ai-cost-gateway/pkg/logger"
)

type staticStore struct {
	entries map[string]*pricing.Entry
}

func (s *staticStore) ActiveEntry(ctx context.Context, provider, model string, at time.Time) (*pricing.Entry, error) {
	if e, ok := s.entries[provider+"/"+model]; ok {
		return e, nil
	}
	return nil, pricing.ErrNoEntry
}

func (s *staticStore) ActiveEntries(ctx context.Context, at time.Time) ([]*pricing.Entry, error) {
	var out []*pricing.Entry
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *staticStore) Create(ctx context.Context, entry *pricing.Entry) error {
	if s.entries == nil {
		s.entries = make(map[string]*pricing.Entry)
	}
	s.entries[entry.Provider+"/"+entry.Model] = entry
	return nil
}

func newCalculator(entries ...*pricing.Entry) *Calculator {
	store := &staticStore{}
	for _, e := range entries {
		_ = store.Create(context.Background(), e)
	}
	return NewCalculator(pricing.NewResolver(store, nil, 0, logger.NewNop()))
}

func entry(provider, model, prompt, completion string) *pricing.Entry {
	return &pricing.Entry{
		Provider:        provider,
		Model:           model,
		PromptPer1K:     decimal.RequireFromString(prompt),
		CompletionPer1K: decimal.RequireFromString(completion),
		Active:          true,
	}
}

func TestPrice_GPT4Reference(t *testing.T) {
	c := newCalculator(entry("openai", "gpt-4", "0.03", "0.06"))

	// 1000 prompt + 500 completion at 0.03/0.06 per 1k = 0.03 + 0.03 = 0.06
	res, err := c.Price(context.Background(), "openai", "gpt-4", 1000, 500, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Priced)
	assert.True(t, res.Cost.Equal(decimal.RequireFromString("0.06")), "got %s", res.Cost)
}

func TestPrice_RoundsToSixPlaces(t *testing.T) {
	c := newCalculator(entry("openai", "gpt-4o-mini", "0.00015", "0.0006"))

	res, err := c.Price(context.Background(), "openai", "gpt-4o-mini", 7, 3, time.Now())
	require.NoError(t, err)
	// 7/1000*0.00015 + 3/1000*0.0006 = 0.00000105 + 0.0000018 = 0.00000285 -> 0.000003
	assert.True(t, res.Cost.Equal(decimal.RequireFromString("0.000003")), "got %s", res.Cost)
	assert.LessOrEqual(t, int(res.Cost.Exponent()*-1), Scale)
}

func TestPrice_MonotonicInTokenCounts(t *testing.T) {
	c := newCalculator(entry("openai", "gpt-4", "0.03", "0.06"))
	ctx := context.Background()

	prev := decimal.NewFromInt(-1)
	for _, tokens := range []int64{0, 1, 10, 500, 1000, 250000} {
		res, err := c.Price(ctx, "openai", "gpt-4", tokens, tokens, time.Now())
		require.NoError(t, err)
		assert.True(t, res.Cost.GreaterThanOrEqual(prev),
			"cost %s decreased below %s at %d tokens", res.Cost, prev, tokens)
		prev = res.Cost
	}
}

func TestPrice_ZeroTokensCostZero(t *testing.T) {
	c := newCalculator(entry("openai", "gpt-4", "0.03", "0.06"))
	res, err := c.Price(context.Background(), "openai", "gpt-4", 0, 0, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Priced)
	assert.True(t, res.Cost.IsZero())
}

func TestPrice_UnpricedModelSignalled(t *testing.T) {
	c := newCalculator()
	res, err := c.Price(context.Background(), "openai", "some-unknown-model", 1000, 1000, time.Now())
	require.NoError(t, err)
	assert.False(t, res.Priced)
	assert.True(t, res.Cost.IsZero())
}

func TestPrice_FlatPerRequestRateAdded(t *testing.T) {
	e := entry("openai", "dall-e-3", "0", "0")
	e.PerRequest = decimal.NewNullDecimal(decimal.RequireFromString("0.04"))
	c := newCalculator(e)

	res, err := c.Price(context.Background(), "openai", "dall-e-3", 0, 0, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Cost.Equal(decimal.RequireFromString("0.04")))
}

func TestEstimate_MatchesPriceAndIsPure(t *testing.T) {
	c := newCalculator(entry("anthropic", "claude-3-haiku-20240307", "0.00025", "0.00125"))

	est, err := c.EstimateCost(context.Background(), "anthropic", "claude-3-haiku-20240307", 2000, 1000)
	require.NoError(t, err)
	// 2*0.00025 + 1*0.00125 = 0.00175
	assert.True(t, est.Cost.Equal(decimal.RequireFromString("0.00175")), "got %s", est.Cost)
	assert.True(t, est.Priced)
}

func TestCompare_CoversCatalog(t *testing.T) {
	c := newCalculator(
		entry("openai", "gpt-4", "0.03", "0.06"),
		entry("anthropic", "claude-3-haiku-20240307", "0.00025", "0.00125"),
	)

	estimates, err := c.Compare(context.Background(), 1000, 1000)
	require.NoError(t, err)

	byKey := make(map[string]Estimate)
	for _, e := range estimates {
		byKey[e.Provider+"/"+e.Model] = e
	}
	assert.True(t, byKey["openai/gpt-4"].Cost.Equal(decimal.RequireFromString("0.09")))
	assert.True(t, byKey["anthropic/claude-3-haiku-20240307"].Cost.Equal(decimal.RequireFromString("0.0015")))
	// Fallback-only models appear alongside store entries.
	assert.Contains(t, byKey, "gemini/gemini-1.5-flash")
}
