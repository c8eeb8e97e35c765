package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/ai-cost-gateway/pkg/crypto"
	"github.com/vnmchuo/ai-cost-gateway/pkg/logger"
)

type memStore struct {
	creds   map[string]*Credential // tenant/provider key
	touched []string
}

func (s *memStore) GetActive(ctx context.Context, tenantID, provider string) (*Credential, error) {
	c, ok := s.creds[tenantID+"/"+provider]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *memStore) Create(ctx context.Context, cred *Credential) error {
	s.creds[cred.TenantID+"/"+cred.Provider] = cred
	return nil
}

func (s *memStore) Deactivate(ctx context.Context, credentialID string) error {
	return nil
}

func (s *memStore) Touch(ctx context.Context, credentialID string, usedAt time.Time) error {
	s.touched = append(s.touched, credentialID)
	return nil
}

func newTestResolver(t *testing.T, store Store) *Resolver {
	t.Helper()
	cipher, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return NewResolver(store, cipher, nil, time.Minute, logger.NewNop())
}

func TestResolve_DecryptsStoredSecret(t *testing.T) {
	store := &memStore{creds: map[string]*Credential{}}
	r := newTestResolver(t, store)

	sealed, err := r.Seal("sk-real-secret")
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), &Credential{
		ID: "cred-1", TenantID: "t1", Provider: "openai",
		EncryptedKey: sealed, Active: true,
	}))

	resolved, err := r.Resolve(context.Background(), "t1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "cred-1", resolved.CredentialID)
	assert.Equal(t, "sk-real-secret", resolved.Secret)
}

func TestResolve_NotFound(t *testing.T) {
	r := newTestResolver(t, &memStore{creds: map[string]*Credential{}})

	_, err := r.Resolve(context.Background(), "t1", "anthropic")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_CorruptCiphertextFails(t *testing.T) {
	store := &memStore{creds: map[string]*Credential{
		"t1/openai": {ID: "cred-1", TenantID: "t1", Provider: "openai",
			EncryptedKey: []byte("not a real ciphertext"), Active: true},
	}}
	r := newTestResolver(t, store)

	_, err := r.Resolve(context.Background(), "t1", "openai")
	assert.Error(t, err)
}

func TestMarkUsed_TouchesStore(t *testing.T) {
	store := &memStore{creds: map[string]*Credential{}}
	r := newTestResolver(t, store)

	r.MarkUsed(context.Background(), "cred-9", time.Now())
	assert.Equal(t, []string{"cred-9"}, store.touched)
}
