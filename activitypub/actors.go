package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/util"
)

func userAgent() string {
	return "anancus/" + util.GetVersion() + " ActivityPub"
}

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Inbox             string      `json:"inbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ActorFetcher resolves remote actor documents through the database
// cache, fetching over HTTP when the cache is cold or stale. Fetches
// are bounded by Timeout so a slow remote cannot stall verification.
type ActorFetcher struct {
	DB       *db.DB
	Client   *http.Client
	Timeout  time.Duration
	CacheTTL time.Duration
}

func NewActorFetcher(database *db.DB, timeout time.Duration) *ActorFetcher {
	return &ActorFetcher{
		DB:       database,
		Client:   &http.Client{},
		Timeout:  timeout,
		CacheTTL: 24 * time.Hour,
	}
}

// GetOrFetch returns the actor from cache, refreshing when stale.
func (f *ActorFetcher) GetOrFetch(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	err, cached := f.DB.ReadRemoteActorByURI(actorURI)
	if err == nil && cached != nil && time.Since(cached.LastFetchedAt) < f.CacheTTL {
		return cached, nil
	}

	actor, err := f.fetch(ctx, actorURI)
	if err != nil {
		// Serve a stale entry rather than fail verification outright
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	return actor, nil
}

func (f *ActorFetcher) fetch(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("actor fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var doc ActorResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, err
	}

	inbox := doc.Inbox
	if doc.Endpoints.SharedInbox != "" {
		inbox = doc.Endpoints.SharedInbox
	}

	actor := &domain.RemoteActor{
		ActorURI:      doc.ID,
		Username:      doc.PreferredUsername,
		Domain:        domainName,
		InboxURI:      inbox,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now(),
	}

	if err := f.DB.UpsertRemoteActor(actor); err != nil {
		return nil, fmt.Errorf("failed to cache remote actor: %w", err)
	}
	return actor, nil
}

// extractDomain extracts the host from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	return parsed.Host, nil
}

// extractUsername extracts the trailing path segment of an actor URI
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) > 0 {
		return strings.TrimPrefix(parts[len(parts)-1], "@")
	}
	return ""
}
