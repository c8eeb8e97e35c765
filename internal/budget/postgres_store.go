package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrPolicyNotFound = errors.New("budget policy not found")

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListActive(ctx context.Context, tenantID string) ([]*Policy, error) {
	query := `
		SELECT id, tenant_id, period_kind, limit_usd, alert_threshold,
			alerts_enabled, auto_cutoff_enabled, scope, active, created_at
		FROM budget_policies
		WHERE tenant_id = $1 AND active = true
		ORDER BY period_kind
	`
	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query budget policies: %w", err)
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		var p Policy
		err := rows.Scan(
			&p.ID, &p.TenantID, &p.PeriodKind, &p.LimitUSD, &p.AlertThreshold,
			&p.AlertsEnabled, &p.AutoCutoffEnabled, &p.Scope, &p.Active, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget policy: %w", err)
		}
		policies = append(policies, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating budget policies: %w", err)
	}

	return policies, nil
}

func (s *PostgresStore) Create(ctx context.Context, policy *Policy) error {
	// The partial unique index on (tenant_id, period_kind) WHERE active
	// enforces at most one active policy per pair; deactivate the previous
	// one first so the new policy supersedes it.
	query := `
		WITH superseded AS (
			UPDATE budget_policies SET active = false
			WHERE tenant_id = $1 AND period_kind = $2 AND active = true
		)
		INSERT INTO budget_policies (tenant_id, period_kind, limit_usd, alert_threshold,
			alerts_enabled, auto_cutoff_enabled, scope, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		policy.TenantID, policy.PeriodKind, policy.LimitUSD, policy.AlertThreshold,
		policy.AlertsEnabled, policy.AutoCutoffEnabled, policy.Scope, policy.Active,
	).Scan(&policy.ID, &policy.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create budget policy: %w", err)
	}

	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, policyID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE budget_policies SET active = false WHERE id = $1`, policyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate budget policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}

	return nil
}
