package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

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

func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO usage_logs (tenant_id, credential_id, request_id, provider, model, endpoint,
			prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, status_code,
			request_size_bytes, response_size_bytes, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.TenantID, rec.CredentialID, rec.RequestID, rec.Provider, rec.Model, rec.Endpoint,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CostUSD, rec.LatencyMs,
		rec.StatusCode, rec.RequestSizeBytes, rec.ResponseSizeBytes, rec.Metadata,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, tenant_id, credential_id, request_id, provider, model, endpoint,
			prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, status_code,
			request_size_bytes, response_size_bytes, metadata, created_at
		FROM usage_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.TenantID, &r.CredentialID, &r.RequestID, &r.Provider, &r.Model, &r.Endpoint,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CostUSD, &r.LatencyMs,
			&r.StatusCode, &r.RequestSizeBytes, &r.ResponseSizeBytes, &r.Metadata, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

// SumCost sums the NUMERIC column into a decimal directly; the money value
// never round-trips through a float.
func (s *PostgresStore) SumCost(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
	`
	var total decimal.Decimal
	if err := s.db.QueryRow(ctx, query, tenantID, from, to).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum cost: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) Aggregate(ctx context.Context, tenantID string, from, to time.Time, by GroupBy) ([]Bucket, error) {
	var keyExpr string
	switch by {
	case GroupByDay:
		keyExpr = `to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD')`
	case GroupByModel:
		keyExpr = `model`
	case GroupByProvider:
		keyExpr = `provider`
	default:
		return nil, fmt.Errorf("unsupported group by: %q", by)
	}

	query := fmt.Sprintf(`
		SELECT %s AS key, COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY key
		ORDER BY key
	`, keyExpr)

	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Requests, &b.TotalTokens, &b.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan usage bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage buckets: %w", err)
	}

	return buckets, nil
}
