package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/ai-cost-gateway/pkg/logger"
)

// memStore mirrors the postgres selection rule over a slice: entries whose
// effective window contains the instant, latest effective_from first, ties
// broken by highest id.
type memStore struct {
	entries []*Entry
	nextID  int64
}

func (s *memStore) ActiveEntry(ctx context.Context, provider, model string, at time.Time) (*Entry, error) {
	var best *Entry
	for _, e := range s.entries {
		if e.Provider != provider || e.Model != model || !e.Active {
			continue
		}
		if e.EffectiveFrom != nil && e.EffectiveFrom.After(at) {
			continue
		}
		if e.DeprecatedFrom != nil && !e.DeprecatedFrom.After(at) {
			continue
		}
		if best == nil || laterEffective(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNoEntry
	}
	return best, nil
}

func laterEffective(a, b *Entry) bool {
	switch {
	case a.EffectiveFrom == nil && b.EffectiveFrom != nil:
		return false
	case a.EffectiveFrom != nil && b.EffectiveFrom == nil:
		return true
	case a.EffectiveFrom != nil && !a.EffectiveFrom.Equal(*b.EffectiveFrom):
		return a.EffectiveFrom.After(*b.EffectiveFrom)
	default:
		return a.ID > b.ID
	}
}

func (s *memStore) ActiveEntries(ctx context.Context, at time.Time) ([]*Entry, error) {
	seen := make(map[string]bool)
	var out []*Entry
	for _, e := range s.entries {
		key := e.Provider + "/" + e.Model
		if seen[key] {
			continue
		}
		if entry, err := s.ActiveEntry(ctx, e.Provider, e.Model, at); err == nil {
			out = append(out, entry)
			seen[key] = true
		}
	}
	return out, nil
}

func (s *memStore) Create(ctx context.Context, entry *Entry) error {
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return nil
}

func mustEntry(t *testing.T, s *memStore, provider, model, prompt, completion string, from, until *time.Time) *Entry {
	t.Helper()
	e := &Entry{
		Provider:        provider,
		Model:           model,
		PromptPer1K:     decimal.RequireFromString(prompt),
		CompletionPer1K: decimal.RequireFromString(completion),
		EffectiveFrom:   from,
		DeprecatedFrom:  until,
		Active:          true,
	}
	require.NoError(t, s.Create(context.Background(), e))
	return e
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestResolve_LatestEffectiveWins(t *testing.T) {
	store := &memStore{}
	mustEntry(t, store, "openai", "gpt-4", "0.03", "0.06", ts("2024-01-01T00:00:00Z"), nil)
	mustEntry(t, store, "openai", "gpt-4", "0.02", "0.04", ts("2024-06-01T00:00:00Z"), nil)

	r := NewResolver(store, nil, 0, logger.NewNop())

	e, err := r.Resolve(context.Background(), "openai", "gpt-4", *ts("2024-07-01T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, e.PromptPer1K.Equal(decimal.RequireFromString("0.02")))

	// Before the newer entry took effect, the older one still applies.
	e, err = r.Resolve(context.Background(), "openai", "gpt-4", *ts("2024-03-01T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, e.PromptPer1K.Equal(decimal.RequireFromString("0.03")))
}

func TestResolve_TieBrokenByNewestEntry(t *testing.T) {
	store := &memStore{}
	from := ts("2024-01-01T00:00:00Z")
	mustEntry(t, store, "openai", "gpt-4", "0.03", "0.06", from, nil)
	latest := mustEntry(t, store, "openai", "gpt-4", "0.025", "0.05", from, nil)

	r := NewResolver(store, nil, 0, logger.NewNop())
	e, err := r.Resolve(context.Background(), "openai", "gpt-4", *ts("2024-02-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, latest.ID, e.ID)
}

func TestResolve_DeprecatedEntryExcluded(t *testing.T) {
	store := &memStore{}
	mustEntry(t, store, "openai", "gpt-4", "0.05", "0.10", ts("2024-01-01T00:00:00Z"), ts("2024-06-01T00:00:00Z"))

	r := NewResolver(store, nil, 0, logger.NewNop())

	// After deprecation the store entry is gone; the fallback rate applies.
	e, err := r.Resolve(context.Background(), "openai", "gpt-4", *ts("2024-07-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Zero(t, e.ID)
	assert.True(t, e.PromptPer1K.Equal(decimal.RequireFromString("0.03")))
}

func TestResolve_FallbackWhenStoreEmpty(t *testing.T) {
	r := NewResolver(&memStore{}, nil, 0, logger.NewNop())
	e, err := r.Resolve(context.Background(), "anthropic", "claude-3-opus-20240229", time.Now())
	require.NoError(t, err)
	assert.True(t, e.CompletionPer1K.Equal(decimal.RequireFromString("0.075")))
}

func TestResolve_UnknownModelNotPriced(t *testing.T) {
	r := NewResolver(&memStore{}, nil, 0, logger.NewNop())
	_, err := r.Resolve(context.Background(), "openai", "gpt-99", time.Now())
	assert.ErrorIs(t, err, ErrNotPriced)
}

func TestCatalog_MergesFallback(t *testing.T) {
	store := &memStore{}
	mustEntry(t, store, "openai", "gpt-4", "0.02", "0.04", ts("2024-01-01T00:00:00Z"), nil)

	r := NewResolver(store, nil, 0, logger.NewNop())
	entries, err := r.Catalog(context.Background(), time.Now())
	require.NoError(t, err)

	byKey := make(map[string]*Entry)
	for _, e := range entries {
		byKey[e.Provider+"/"+e.Model] = e
	}

	// Store entry wins over the fallback rate for the same model.
	assert.True(t, byKey["openai/gpt-4"].PromptPer1K.Equal(decimal.RequireFromString("0.02")))
	// Fallback-only models are still present.
	assert.NotNil(t, byKey["anthropic/claude-3-haiku-20240307"])
}
