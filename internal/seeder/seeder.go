package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vnmchuo/ai-cost-gateway/internal/auth"
	"github.com/vnmchuo/ai-cost-gateway/internal/budget"
	"github.com/vnmchuo/ai-cost-gateway/internal/credential"
	"github.com/vnmchuo/ai-cost-gateway/internal/pricing"
)

// Development fixtures. Never seeded outside the development environment.
const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"

	// Placeholder upstream secret; replace through the credential API before
	// proxying real traffic.
	testProviderSecret = "sk-local-dev-not-a-real-key"
)

// Sealer encrypts a cleartext secret for storage.
type Sealer interface {
	Seal(secret string) ([]byte, error)
}

// SeedTestAPIKey creates the well-known development gateway key.
func SeedTestAPIKey(ctx context.Context, store auth.Store, log *zap.SugaredLogger) {
	h := sha256.Sum256([]byte(TestAPIKey))

	apiKey := &auth.APIKey{
		TenantID:  TestTenantID,
		KeyHash:   hex.EncodeToString(h[:]),
		RateLimit: 1000000,
		Active:    true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		log.Infow("test api key may already exist, skipping", "error", err)
		return
	}
	log.Infow("test api key created", "key", TestAPIKey, "tenant_id", TestTenantID)
}

// SeedTestCredential stores a placeholder openai credential for the test
// tenant so the proxy path works end to end in development.
func SeedTestCredential(ctx context.Context, store credential.Store, sealer Sealer, log *zap.SugaredLogger) {
	sealed, err := sealer.Seal(testProviderSecret)
	if err != nil {
		log.Errorw("failed to seal test credential", "error", err)
		return
	}

	cred := &credential.Credential{
		TenantID:     TestTenantID,
		Provider:     "openai",
		Name:         "dev-placeholder",
		EncryptedKey: sealed,
		Active:       true,
	}
	if err := store.Create(ctx, cred); err != nil {
		log.Infow("test credential may already exist, skipping", "error", err)
		return
	}
	log.Infow("test openai credential created", "tenant_id", TestTenantID)
}

// SeedTestBudget creates a monthly $100 policy with alerts at 80% and no
// auto-cutoff, so development traffic is never rejected.
func SeedTestBudget(ctx context.Context, store budget.Store, log *zap.SugaredLogger) {
	policies, err := store.ListActive(ctx, TestTenantID)
	if err == nil && len(policies) > 0 {
		return
	}

	policy := &budget.Policy{
		TenantID:          TestTenantID,
		PeriodKind:        budget.PeriodMonthly,
		LimitUSD:          decimal.NewFromInt(100),
		AlertThreshold:    decimal.NewFromFloat(0.8),
		AlertsEnabled:     true,
		AutoCutoffEnabled: false,
		Scope:             "tenant",
		Active:            true,
	}
	if err := store.Create(ctx, policy); err != nil {
		log.Infow("test budget policy may already exist, skipping", "error", err)
		return
	}
	log.Infow("test budget policy created", "tenant_id", TestTenantID, "limit_usd", "100")
}

// SeedPricing inserts a couple of store-backed pricing rows so the pricing
// table takes precedence over the built-in fallback for common models.
func SeedPricing(ctx context.Context, store pricing.Store, log *zap.SugaredLogger) {
	now := time.Now().UTC()
	entries := []*pricing.Entry{
		{
			Provider:        "openai",
			Model:           "gpt-4o",
			PromptPer1K:     decimal.NewFromFloat(0.0025),
			CompletionPer1K: decimal.NewFromFloat(0.01),
			EffectiveFrom:   &now,
			Active:          true,
		},
		{
			Provider:        "anthropic",
			Model:           "claude-3-sonnet",
			PromptPer1K:     decimal.NewFromFloat(0.003),
			CompletionPer1K: decimal.NewFromFloat(0.015),
			EffectiveFrom:   &now,
			Active:          true,
		},
	}

	for _, e := range entries {
		if err := store.Create(ctx, e); err != nil {
			log.Infow("pricing row may already exist, skipping",
				"provider", e.Provider, "model", e.Model, "error", err)
		}
	}
}
