package credential

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound means the tenant holds no active credential for the provider.
// The gateway fails closed on it before any upstream traffic.
var ErrNotFound = errors.New("no active credential for provider")

// Credential is a tenant-owned upstream secret, scoped to one provider. The
// secret is stored encrypted and is never logged or returned in cleartext
// after creation.
type Credential struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Provider     string     `json:"provider"`
	Name         string     `json:"name"`
	EncryptedKey []byte     `json:"encrypted_key"`
	Active       bool       `json:"active"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (c *Credential) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (c *Credential) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

type Store interface {
	// GetActive returns the tenant's active credential for a provider, or
	// ErrNotFound.
	GetActive(ctx context.Context, tenantID, provider string) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
	Deactivate(ctx context.Context, credentialID string) error
	// Touch records when the credential last carried a successful call.
	Touch(ctx context.Context, credentialID string, usedAt time.Time) error
}
