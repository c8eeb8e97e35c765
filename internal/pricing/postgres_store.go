package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const entryColumns = `id, provider, model, prompt_per_1k, completion_per_1k,
	per_request, per_image, per_minute, effective_from, deprecated_from, active, created_at`

func (s *PostgresStore) ActiveEntry(ctx context.Context, provider, model string, at time.Time) (*Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM model_pricing
		WHERE provider = $1 AND model = $2 AND active = true
		  AND (effective_from IS NULL OR effective_from <= $3)
		  AND (deprecated_from IS NULL OR deprecated_from > $3)
		ORDER BY effective_from DESC NULLS LAST, id DESC
		LIMIT 1
	`, entryColumns)

	var e Entry
	err := s.db.QueryRow(ctx, query, provider, model, at).Scan(
		&e.ID, &e.Provider, &e.Model, &e.PromptPer1K, &e.CompletionPer1K,
		&e.PerRequest, &e.PerImage, &e.PerMinute,
		&e.EffectiveFrom, &e.DeprecatedFrom, &e.Active, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoEntry
		}
		return nil, fmt.Errorf("failed to get pricing entry: %w", err)
	}

	return &e, nil
}

func (s *PostgresStore) ActiveEntries(ctx context.Context, at time.Time) ([]*Entry, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (provider, model) %s
		FROM model_pricing
		WHERE active = true
		  AND (effective_from IS NULL OR effective_from <= $1)
		  AND (deprecated_from IS NULL OR deprecated_from > $1)
		ORDER BY provider, model, effective_from DESC NULLS LAST, id DESC
	`, entryColumns)

	rows, err := s.db.Query(ctx, query, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID, &e.Provider, &e.Model, &e.PromptPer1K, &e.CompletionPer1K,
			&e.PerRequest, &e.PerImage, &e.PerMinute,
			&e.EffectiveFrom, &e.DeprecatedFrom, &e.Active, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pricing entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pricing entries: %w", err)
	}

	return entries, nil
}

func (s *PostgresStore) Create(ctx context.Context, entry *Entry) error {
	if entry.PromptPer1K.IsNegative() || entry.CompletionPer1K.IsNegative() {
		return fmt.Errorf("pricing rates must be non-negative")
	}

	query := `
		INSERT INTO model_pricing (provider, model, prompt_per_1k, completion_per_1k,
			per_request, per_image, per_minute, effective_from, deprecated_from, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		entry.Provider, entry.Model, entry.PromptPer1K, entry.CompletionPer1K,
		entry.PerRequest, entry.PerImage, entry.PerMinute,
		entry.EffectiveFrom, entry.DeprecatedFrom, entry.Active,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pricing entry: %w", err)
	}

	return nil
}
