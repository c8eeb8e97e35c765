package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnmchuo/ai-cost-gateway/internal/ledger"
	"github.com/vnmchuo/ai-cost-gateway/internal/notify"
)

// Locker serializes pre-flight checks per tenant. This is an advisory
// mitigation only: the check and the later ledger append are still not one
// atomic transaction, so concurrent in-flight calls near a tight limit can
// admit more spend than the limit in bursts.
type Locker interface {
	// Acquire blocks briefly for the key's lock and returns a release func.
	// A Locker may give up and let the caller proceed unlocked.
	Acquire(ctx context.Context, key string) func()
}

// lockRedis is the slice of the redis client the locker needs.
type lockRedis interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Compare-and-delete: only the token that acquired the lock may remove it, so
// a stale release cannot unlock a successor that acquired after the TTL.
const releaseLockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker implements Locker with SET NX, a unique ownership token and a
// short TTL so a crashed holder cannot wedge a tenant.
type RedisLocker struct {
	rdb lockRedis
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: 2 * time.Second}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) func() {
	lockKey := "budget:lock:" + key
	token := uuid.New().String()
	for i := 0; i < 20; i++ {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return func() {}
		}
		if ok {
			return func() {
				l.rdb.Eval(context.Background(), releaseLockScript, []string{lockKey}, token)
			}
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return func() {}
		}
	}
	// Contention window exhausted: proceed unlocked without touching the
	// current holder's lock.
	return func() {}
}

// AlertGate deduplicates alerts so every call inside a window does not
// re-notify the tenant.
type AlertGate interface {
	ShouldAlert(ctx context.Context, key string) bool
}

// RedisAlertGate allows one alert per key per TTL via SET NX.
type RedisAlertGate struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAlertGate(rdb *redis.Client, ttl time.Duration) *RedisAlertGate {
	return &RedisAlertGate{rdb: rdb, ttl: ttl}
}

func (g *RedisAlertGate) ShouldAlert(ctx context.Context, key string) bool {
	ok, err := g.rdb.SetNX(ctx, "budget:alert:"+key, 1, g.ttl).Result()
	if err != nil {
		// If the gate is unreachable, alert rather than stay silent.
		return true
	}
	return ok
}

// Tracker evaluates a tenant's budget policies against the ledger and
// enforces them before a call is forwarded. Spend is always recomputed from
// the ledger; the tracker holds no counters.
type Tracker struct {
	policies Store
	usage    ledger.Store
	notifier notify.Notifier
	locker   Locker
	gate     AlertGate
	log      *zap.SugaredLogger
}

func NewTracker(policies Store, usage ledger.Store, notifier notify.Notifier, locker Locker, gate AlertGate, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		policies: policies,
		usage:    usage,
		notifier: notifier,
		locker:   locker,
		gate:     gate,
		log:      log,
	}
}

// Evaluate computes the status of every active policy for the tenant at the
// given instant. Tenants without policies get an empty slice, not an error.
func (t *Tracker) Evaluate(ctx context.Context, tenantID string, now time.Time) ([]Status, error) {
	policies, err := t.policies.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget policies: %w", err)
	}

	statuses := make([]Status, 0, len(policies))
	for _, p := range policies {
		status, err := t.evaluatePolicy(ctx, p, now)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (t *Tracker) evaluatePolicy(ctx context.Context, p *Policy, now time.Time) (Status, error) {
	start, end, err := Window(p.PeriodKind, now)
	if err != nil {
		return Status{}, err
	}

	spend, err := t.usage.SumCost(ctx, p.TenantID, start, end)
	if err != nil {
		return Status{}, fmt.Errorf("failed to compute window spend: %w", err)
	}

	return Status{
		PeriodKind:        p.PeriodKind,
		LimitUSD:          p.LimitUSD,
		CurrentSpendUSD:   spend,
		PercentUsed:       percentUsed(p, spend),
		State:             evaluate(p, spend),
		AlertsEnabled:     p.AlertsEnabled,
		AutoCutoffEnabled: p.AutoCutoffEnabled,
		PeriodStart:       start,
		PeriodEnd:         end,
	}, nil
}

// Authorize is the pre-flight check. It admits the call unless some policy is
// over budget with auto-cutoff enabled, in which case it returns an
// *ExceededError and the call must be rejected before any upstream traffic.
// The check uses spend-so-far, not projected post-call spend: a single large
// call can push a tenant past the limit before the next call is blocked.
func (t *Tracker) Authorize(ctx context.Context, tenantID string, now time.Time) error {
	if t.locker != nil {
		release := t.locker.Acquire(ctx, tenantID)
		defer release()
	}

	statuses, err := t.Evaluate(ctx, tenantID, now)
	if err != nil {
		return err
	}

	for _, status := range statuses {
		t.dispatchAlerts(tenantID, status)
		if status.State == StateOverBudget && status.AutoCutoffEnabled {
			return &ExceededError{Status: status}
		}
	}

	return nil
}

// Settle re-evaluates the tenant after a usage record lands so threshold
// crossings caused by the call itself still alert.
func (t *Tracker) Settle(ctx context.Context, tenantID string, now time.Time) {
	statuses, err := t.Evaluate(ctx, tenantID, now)
	if err != nil {
		t.log.Warnw("post-call budget evaluation failed", "tenant_id", tenantID, "error", err)
		return
	}
	for _, status := range statuses {
		t.dispatchAlerts(tenantID, status)
	}
}

func (t *Tracker) dispatchAlerts(tenantID string, status Status) {
	if !status.AlertsEnabled {
		return
	}
	if status.State != StateApproachingLimit && status.State != StateOverBudget {
		return
	}

	if t.gate != nil {
		key := fmt.Sprintf("%s:%s:%s:%s", tenantID, status.PeriodKind, status.State,
			status.PeriodStart.Format("2006-01-02"))
		if !t.gate.ShouldAlert(context.Background(), key) {
			return
		}
	}

	subject, body := alertMessage(status)

	// Best-effort: notification failures never block or fail the call.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := t.notifier.Notify(ctx, tenantID, subject, body); err != nil {
			t.log.Warnw("budget alert delivery failed",
				"tenant_id", tenantID, "state", status.State, "error", err)
		}
	}()
}

func alertMessage(status Status) (string, string) {
	var subject string
	if status.State == StateOverBudget {
		subject = "Budget limit exceeded"
	} else {
		subject = "Approaching budget limit"
	}

	body := fmt.Sprintf(
		"Period: %s\nLimit: $%s\nCurrent spend: $%s\nPercentage used: %.1f%%\n",
		status.PeriodKind,
		status.LimitUSD.StringFixed(2),
		status.CurrentSpendUSD.StringFixed(2),
		status.PercentUsed,
	)
	return subject, body
}
