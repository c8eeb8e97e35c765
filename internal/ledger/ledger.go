package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GroupBy selects the aggregation bucket key.
type GroupBy string

const (
	GroupByDay      GroupBy = "day"
	GroupByModel    GroupBy = "model"
	GroupByProvider GroupBy = "provider"
)

// Record is one completed (or failed) proxied call. Records are immutable
// facts: appended once, never mutated or deleted here. The ledger is the sole
// source of truth for spend computation.
type Record struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	CredentialID      string          `json:"credential_id"`
	RequestID         string          `json:"request_id"`
	Provider          string          `json:"provider"`
	Model             string          `json:"model"`
	Endpoint          string          `json:"endpoint"`
	PromptTokens      int64           `json:"prompt_tokens"`
	CompletionTokens  int64           `json:"completion_tokens"`
	TotalTokens       int64           `json:"total_tokens"`
	CostUSD           decimal.Decimal `json:"cost_usd"`
	LatencyMs         int64           `json:"latency_ms"`
	StatusCode        int             `json:"status_code"`
	RequestSizeBytes  int64           `json:"request_size_bytes"`
	ResponseSizeBytes int64           `json:"response_size_bytes"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Bucket is one aggregation group.
type Bucket struct {
	Key         string          `json:"key"`
	Requests    int64           `json:"requests"`
	TotalTokens int64           `json:"total_tokens"`
	CostUSD     decimal.Decimal `json:"cost_usd"`
}

// Store is the append-only usage ledger. Windows are half-open [from, to).
// Sums are computed from stored records at query time; there is no mutable
// running counter.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error)
	SumCost(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error)
	Aggregate(ctx context.Context, tenantID string, from, to time.Time, by GroupBy) ([]Bucket, error)
}
