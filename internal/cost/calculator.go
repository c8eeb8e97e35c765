package cost

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/ai-cost-gateway/internal/pricing"
)

// Scale is the fixed decimal precision for computed costs. Rounding every
// result keeps sums stable across millions of records.
const Scale = 6

var oneThousand = decimal.NewFromInt(1000)

// Result is a priced (or explicitly unpriced) cost. Priced=false means the
// model is unknown to both the store and the fallback table; the zero cost it
// carries must not be read as "free".
type Result struct {
	Cost   decimal.Decimal
	Priced bool
	Entry  *pricing.Entry
}

// Estimate is a pre-call projection of what a request would cost.
type Estimate struct {
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"estimated_cost"`
	Priced           bool            `json:"priced"`
}

type Calculator struct {
	resolver *pricing.Resolver
}

func NewCalculator(resolver *pricing.Resolver) *Calculator {
	return &Calculator{resolver: resolver}
}

// Price converts token counts into a cost using the rate active at the given
// instant: prompt/1000 * promptRate + completion/1000 * completionRate,
// rounded to Scale places. An unknown model yields a zero-cost unpriced
// result and no error, so callers can log a warning without failing the call.
func (c *Calculator) Price(ctx context.Context, provider, model string, promptTokens, completionTokens int64, at time.Time) (Result, error) {
	entry, err := c.resolver.Resolve(ctx, provider, model, at)
	if err != nil {
		if errors.Is(err, pricing.ErrNotPriced) {
			return Result{Cost: decimal.Zero, Priced: false}, nil
		}
		return Result{}, err
	}

	return Result{
		Cost:   rate(entry, promptTokens, completionTokens),
		Priced: true,
		Entry:  entry,
	}, nil
}

// EstimateCost is the pure estimation mode: same math as Price, no side
// effects beyond reading the pricing table.
func (c *Calculator) EstimateCost(ctx context.Context, provider, model string, promptTokens, completionTokens int64) (Estimate, error) {
	res, err := c.Price(ctx, provider, model, promptTokens, completionTokens, time.Now())
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Provider:         provider,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             res.Cost,
		Priced:           res.Priced,
	}, nil
}

// Compare prices the same token counts against every model in the catalog,
// cheapest first within the returned slice's natural iteration.
func (c *Calculator) Compare(ctx context.Context, promptTokens, completionTokens int64) ([]Estimate, error) {
	entries, err := c.resolver.Catalog(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	estimates := make([]Estimate, 0, len(entries))
	for _, e := range entries {
		estimates = append(estimates, Estimate{
			Provider:         e.Provider,
			Model:            e.Model,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Cost:             rate(e, promptTokens, completionTokens),
			Priced:           true,
		})
	}

	return estimates, nil
}

func rate(entry *pricing.Entry, promptTokens, completionTokens int64) decimal.Decimal {
	promptCost := decimal.NewFromInt(promptTokens).Div(oneThousand).Mul(entry.PromptPer1K)
	completionCost := decimal.NewFromInt(completionTokens).Div(oneThousand).Mul(entry.CompletionPer1K)
	total := promptCost.Add(completionCost)
	if entry.PerRequest.Valid {
		total = total.Add(entry.PerRequest.Decimal)
	}
	return total.Round(Scale)
}
