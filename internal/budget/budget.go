package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
)

type State string

const (
	StateWithinBudget     State = "within_budget"
	StateApproachingLimit State = "approaching_limit"
	StateOverBudget       State = "over_budget"
)

// Policy is a tenant-configured spending limit for one period kind. At most
// one active policy exists per (tenant, period kind). The tracker only reads
// policies; lifecycle is owned by the management surface.
type Policy struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	PeriodKind        PeriodKind      `json:"period_kind"`
	LimitUSD          decimal.Decimal `json:"limit_usd"`
	AlertThreshold    decimal.Decimal `json:"alert_threshold"` // fraction of the limit, default 0.8
	AlertsEnabled     bool            `json:"alerts_enabled"`
	AutoCutoffEnabled bool            `json:"auto_cutoff_enabled"`
	Scope             string          `json:"scope"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Status is the evaluated state of one policy at a point in time. This is the
// budget check result shape consumed by callers and the analytics layer.
type Status struct {
	PeriodKind        PeriodKind      `json:"period_kind"`
	LimitUSD          decimal.Decimal `json:"limit_usd"`
	CurrentSpendUSD   decimal.Decimal `json:"current_spend_usd"`
	PercentUsed       float64         `json:"percent_used"`
	State             State           `json:"state"`
	AlertsEnabled     bool            `json:"alerts_enabled"`
	AutoCutoffEnabled bool            `json:"auto_cutoff_enabled"`
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
}

// ExceededError rejects a call at the pre-flight check: the policy is over
// budget and auto-cutoff is enabled.
type ExceededError struct {
	Status Status
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget limit exceeded for %s period: spent $%s of $%s limit",
		e.Status.PeriodKind, e.Status.CurrentSpendUSD.StringFixed(2), e.Status.LimitUSD.StringFixed(2))
}

type Store interface {
	// ListActive returns the tenant's active policies, at most one per
	// period kind.
	ListActive(ctx context.Context, tenantID string) ([]*Policy, error)
	Create(ctx context.Context, policy *Policy) error
	Deactivate(ctx context.Context, policyID string) error
}

// Window computes the half-open [start, end) range the policy's limit applies
// to. All windows are anchored in UTC so period boundaries are unambiguous
// across tenants.
func Window(kind PeriodKind, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	switch kind {
	case PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), nil
	case PeriodWeekly:
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -daysSinceMonday)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unsupported period kind: %q", kind)
	}
}

// evaluate runs the state machine for one policy given the window's spend.
func evaluate(policy *Policy, spend decimal.Decimal) State {
	if spend.GreaterThanOrEqual(policy.LimitUSD) {
		return StateOverBudget
	}
	if policy.LimitUSD.IsPositive() {
		threshold := policy.LimitUSD.Mul(policy.AlertThreshold)
		if spend.GreaterThanOrEqual(threshold) {
			return StateApproachingLimit
		}
	}
	return StateWithinBudget
}

func percentUsed(policy *Policy, spend decimal.Decimal) float64 {
	if !policy.LimitUSD.IsPositive() {
		return 0
	}
	return spend.Div(policy.LimitUSD).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
