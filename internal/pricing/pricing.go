package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoEntry means the store has no entry for (provider, model) at the
// requested instant. Callers fall back to the static table before treating
// the model as unpriced.
var ErrNoEntry = errors.New("no pricing entry")

// ErrNotPriced means neither the store nor the fallback table knows the
// model. Distinct from a legitimately zero rate.
var ErrNotPriced = errors.New("model is not priced")

// Entry is one priced rate for a (provider, model) pair. Several entries may
// exist over time; at most one is active for a given instant.
type Entry struct {
	ID              int64               `json:"id"`
	Provider        string              `json:"provider"`
	Model           string              `json:"model"`
	PromptPer1K     decimal.Decimal     `json:"prompt_per_1k"`
	CompletionPer1K decimal.Decimal     `json:"completion_per_1k"`
	PerRequest      decimal.NullDecimal `json:"per_request"`
	PerImage        decimal.NullDecimal `json:"per_image"`
	PerMinute       decimal.NullDecimal `json:"per_minute"`
	EffectiveFrom   *time.Time          `json:"effective_from"`
	DeprecatedFrom  *time.Time          `json:"deprecated_from"`
	Active          bool                `json:"active"`
	CreatedAt       time.Time           `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (e *Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (e *Entry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

type Store interface {
	// ActiveEntry selects the entry for (provider, model) whose effective
	// window contains at: latest effective_from wins, ties broken by highest
	// id. Returns ErrNoEntry when nothing matches.
	ActiveEntry(ctx context.Context, provider, model string, at time.Time) (*Entry, error)
	// ActiveEntries returns the winning entry per (provider, model) at the
	// given instant.
	ActiveEntries(ctx context.Context, at time.Time) ([]*Entry, error)
	Create(ctx context.Context, entry *Entry) error
}
