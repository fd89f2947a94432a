package activitypub

import (
	"context"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
)

type countingResolver struct {
	pem   string
	calls int
}

func (r *countingResolver) PublicKeyPem(ctx context.Context, keyId string) (string, error) {
	r.calls++
	return r.pem, nil
}

func (r *countingResolver) Signer(ctx context.Context, actorURI string) (*rsa.PrivateKey, string, error) {
	return nil, "", domain.ErrKeyUnavailable
}

func TestKeyCacheTTL(t *testing.T) {
	inner := &countingResolver{pem: "PEM"}
	cache := NewKeyCache(inner, time.Hour)
	keyId := "https://remote.example/users/bob#main-key"

	for i := 0; i < 3; i++ {
		pem, err := cache.PublicKeyPem(context.Background(), keyId)
		if err != nil {
			t.Fatalf("PublicKeyPem failed: %v", err)
		}
		if pem != "PEM" {
			t.Errorf("Unexpected pem: %s", pem)
		}
	}
	if inner.calls != 1 {
		t.Errorf("Expected one resolver call behind the cache, got %d", inner.calls)
	}

	cache.Invalidate(keyId)
	if _, err := cache.PublicKeyPem(context.Background(), keyId); err != nil {
		t.Fatalf("PublicKeyPem failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("Expected a fresh resolver call after invalidation, got %d", inner.calls)
	}
}

func TestKeyCacheExpiry(t *testing.T) {
	inner := &countingResolver{pem: "PEM"}
	cache := NewKeyCache(inner, time.Nanosecond)
	keyId := "https://remote.example/users/bob#main-key"

	cache.PublicKeyPem(context.Background(), keyId)
	time.Sleep(time.Millisecond)
	cache.PublicKeyPem(context.Background(), keyId)

	if inner.calls != 2 {
		t.Errorf("Expected expired entry to be refetched, got %d calls", inner.calls)
	}
}

func TestDBKeyResolverSigner(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err, _ := database.CreateAccount("alice"); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	resolver := &DBKeyResolver{DB: database, Actors: NewActorFetcher(database, time.Second)}
	actorURI := "https://local.example/users/alice"

	key, keyId, err := resolver.Signer(context.Background(), actorURI)
	if err != nil {
		t.Fatalf("Signer failed: %v", err)
	}
	if key == nil {
		t.Fatal("Expected a private key")
	}
	if keyId != actorURI+"#main-key" {
		t.Errorf("Unexpected keyId: %s", keyId)
	}

	_, _, err = resolver.Signer(context.Background(), "https://local.example/users/ghost")
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Errorf("Expected ErrKeyUnavailable for unknown actor, got %v", err)
	}
}

func TestDBKeyResolverPublicKey(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	_, pubPEM := generateTestKeyPair(t)
	actorURI := "https://remote.example/users/bob"
	if err := database.UpsertRemoteActor(&domain.RemoteActor{
		ActorURI:      actorURI,
		Username:      "bob",
		Domain:        "remote.example",
		InboxURI:      "https://remote.example/inbox",
		PublicKeyPem:  pubPEM,
		LastFetchedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertRemoteActor failed: %v", err)
	}

	resolver := &DBKeyResolver{DB: database, Actors: NewActorFetcher(database, time.Second)}
	pem, err := resolver.PublicKeyPem(context.Background(), actorURI+"#main-key")
	if err != nil {
		t.Fatalf("PublicKeyPem failed: %v", err)
	}
	if pem != pubPEM {
		t.Error("Expected the cached actor's key")
	}
}
