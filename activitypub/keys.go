package activitypub

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
)

// KeyResolver resolves verification keys for inbound requests and
// signing keys for outbound ones. Implementations must never log or
// otherwise expose private key material.
type KeyResolver interface {
	// PublicKeyPem returns the PEM public key for a signature keyId.
	PublicKeyPem(ctx context.Context, keyId string) (string, error)
	// Signer returns the private key and keyId for a local actor URI.
	// Returns domain.ErrKeyUnavailable when the actor has no usable key.
	Signer(ctx context.Context, actorURI string) (*rsa.PrivateKey, string, error)
}

// DBKeyResolver resolves public keys through the remote actor cache
// and signing keys from local accounts.
type DBKeyResolver struct {
	DB     *db.DB
	Actors *ActorFetcher
}

func (r *DBKeyResolver) PublicKeyPem(ctx context.Context, keyId string) (string, error) {
	actorURI := strings.Split(keyId, "#")[0]
	actor, err := r.Actors.GetOrFetch(ctx, actorURI)
	if err != nil {
		return "", fmt.Errorf("failed to resolve key %s: %w", keyId, err)
	}
	return actor.PublicKeyPem, nil
}

func (r *DBKeyResolver) Signer(ctx context.Context, actorURI string) (*rsa.PrivateKey, string, error) {
	username := extractUsername(actorURI)
	err, account := r.DB.ReadAccountByUsername(username)
	if err != nil || account == nil {
		return nil, "", fmt.Errorf("no account for %s: %w", actorURI, domain.ErrKeyUnavailable)
	}
	privateKey, err := ParsePrivateKey(account.WebPrivateKey)
	if err != nil {
		return nil, "", fmt.Errorf("unusable key for %s: %w", actorURI, domain.ErrKeyUnavailable)
	}
	return privateKey, actorURI + "#main-key", nil
}

type cachedKey struct {
	pem       string
	fetchedAt time.Time
}

// KeyCache wraps a KeyResolver with a TTL cache over public key
// lookups. Signer lookups are never cached.
type KeyCache struct {
	inner KeyResolver
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cachedKey
}

func NewKeyCache(inner KeyResolver, ttl time.Duration) *KeyCache {
	return &KeyCache{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cachedKey),
	}
}

func (c *KeyCache) PublicKeyPem(ctx context.Context, keyId string) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[keyId]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.pem, nil
	}

	pem, err := c.inner.PublicKeyPem(ctx, keyId)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[keyId] = cachedKey{pem: pem, fetchedAt: time.Now()}
	c.mu.Unlock()
	return pem, nil
}

func (c *KeyCache) Signer(ctx context.Context, actorURI string) (*rsa.PrivateKey, string, error) {
	return c.inner.Signer(ctx, actorURI)
}

// Invalidate drops the cached key for a keyId, e.g. after a verified
// Move or Delete of its owner.
func (c *KeyCache) Invalidate(keyId string) {
	c.mu.Lock()
	delete(c.entries, keyId)
	c.mu.Unlock()
}
