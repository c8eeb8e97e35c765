package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetActive(ctx context.Context, tenantID, provider string) (*Credential, error) {
	query := `
		SELECT id, tenant_id, provider, name, encrypted_key, active, last_used_at, created_at
		FROM provider_credentials
		WHERE tenant_id = $1 AND provider = $2 AND active = true
		ORDER BY created_at DESC
		LIMIT 1
	`
	var c Credential
	err := s.db.QueryRow(ctx, query, tenantID, provider).Scan(
		&c.ID, &c.TenantID, &c.Provider, &c.Name, &c.EncryptedKey,
		&c.Active, &c.LastUsedAt, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &c, nil
}

func (s *PostgresStore) Create(ctx context.Context, cred *Credential) error {
	if len(cred.EncryptedKey) == 0 {
		return fmt.Errorf("encrypted_key is required")
	}

	query := `
		INSERT INTO provider_credentials (tenant_id, provider, name, encrypted_key, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		cred.TenantID, cred.Provider, cred.Name, cred.EncryptedKey, cred.Active,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, credentialID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE provider_credentials SET active = false WHERE id = $1`, credentialID)
	if err != nil {
		return fmt.Errorf("failed to deactivate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, credentialID string, usedAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE provider_credentials SET last_used_at = $2 WHERE id = $1`,
		credentialID, usedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}

	return nil
}
