package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnmchuo/ai-cost-gateway/pkg/crypto"
)

// Resolved is what the gateway needs to forward a call: the credential id for
// the usage trail and the decrypted secret for the provider header. The
// secret must never be logged.
type Resolved struct {
	CredentialID string
	Secret       string
}

// Resolver loads a tenant's active credential for a provider, decrypts it,
// and caches the encrypted row in redis with a short TTL. Only ciphertext is
// cached; decryption happens on every resolve.
type Resolver struct {
	store  Store
	cipher *crypto.Encryptor
	cache  *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func NewResolver(store Store, cipher *crypto.Encryptor, cache *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, cipher: cipher, cache: cache, ttl: ttl, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, tenantID, provider string) (*Resolved, error) {
	cacheKey := fmt.Sprintf("credential:%s:%s", tenantID, provider)

	var cred Credential
	cached := false
	if r.cache != nil {
		if err := r.cache.Get(ctx, cacheKey).Scan(&cred); err == nil {
			cached = true
		} else if err != redis.Nil {
			r.log.Warnw("credential cache read failed", "error", err)
		}
	}

	if !cached {
		found, err := r.store.GetActive(ctx, tenantID, provider)
		if err != nil {
			return nil, err
		}
		cred = *found

		if r.cache != nil {
			if err := r.cache.Set(ctx, cacheKey, &cred, r.ttl).Err(); err != nil {
				r.log.Warnw("credential cache write failed", "error", err)
			}
		}
	}

	secret, err := r.cipher.Decrypt(cred.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential %s: %w", cred.ID, err)
	}

	return &Resolved{CredentialID: cred.ID, Secret: secret}, nil
}

// MarkUsed updates the credential's last-used timestamp. Failures are logged,
// not propagated; the timestamp is advisory.
func (r *Resolver) MarkUsed(ctx context.Context, credentialID string, usedAt time.Time) {
	if err := r.store.Touch(ctx, credentialID, usedAt); err != nil {
		r.log.Warnw("failed to update credential last-used timestamp",
			"credential_id", credentialID, "error", err)
	}
}

// Seal encrypts a cleartext secret for storage. Used by the management
// surface and the seeder when creating credentials.
func (r *Resolver) Seal(secret string) ([]byte, error) {
	return r.cipher.Encrypt(secret)
}
