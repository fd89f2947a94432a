package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veldt/anancus/db"
)

func actorDocument(actorURI, inboxURI, pubPEM string) string {
	return fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": %q,
		"type": "Person",
		"preferredUsername": "bob",
		"inbox": %q,
		"publicKey": {
			"id": %q,
			"owner": %q,
			"publicKeyPem": %q
		}
	}`, actorURI, inboxURI, actorURI+"#main-key", actorURI, pubPEM)
}

func TestGetOrFetchCaches(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	_, pubPEM := generateTestKeyPair(t)

	var hits atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		actorURI := server.URL + "/users/bob"
		fmt.Fprint(w, actorDocument(actorURI, server.URL+"/inbox", pubPEM))
	}))
	defer server.Close()

	fetcher := NewActorFetcher(database, 5*time.Second)
	actorURI := server.URL + "/users/bob"

	actor, err := fetcher.GetOrFetch(context.Background(), actorURI)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if actor.InboxURI != server.URL+"/inbox" {
		t.Errorf("Unexpected inbox: %s", actor.InboxURI)
	}
	if actor.PublicKeyPem != pubPEM {
		t.Error("Expected the actor's public key to be cached")
	}

	// Second lookup comes from the cache
	if _, err := fetcher.GetOrFetch(context.Background(), actorURI); err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected a single remote fetch, got %d", hits.Load())
	}
}

func TestGetOrFetchRejectsIncompleteActor(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "https://x.example/users/bob", "type": "Person"}`)
	}))
	defer server.Close()

	fetcher := NewActorFetcher(database, 5*time.Second)
	if _, err := fetcher.GetOrFetch(context.Background(), server.URL+"/users/bob"); err == nil {
		t.Error("Expected error for actor without inbox and key")
	}
}

func TestFetchTimeout(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	fetcher := NewActorFetcher(database, 100*time.Millisecond)
	start := time.Now()
	if _, err := fetcher.GetOrFetch(context.Background(), server.URL+"/users/bob"); err == nil {
		t.Error("Expected the fetch to time out")
	}
	if time.Since(start) > time.Second {
		t.Error("Fetch must respect its timeout")
	}
}

func TestExtractHelpers(t *testing.T) {
	d, err := extractDomain("https://mastodon.social/users/alice")
	if err != nil || d != "mastodon.social" {
		t.Errorf("Unexpected domain: %s (%v)", d, err)
	}

	if u := extractUsername("https://example.com/users/alice"); u != "alice" {
		t.Errorf("Unexpected username: %s", u)
	}
	if u := extractUsername("https://example.com/@alice"); u != "alice" {
		t.Errorf("Unexpected username: %s", u)
	}
}
