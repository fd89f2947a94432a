package activitypub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
)

// Ingester stores federated media referenced by inbound Create
// activities. Implementations enforce the byte cap themselves; the
// declared size in the activity is only a first filter.
type Ingester interface {
	// FetchAndStore downloads the source and returns a storage handle.
	FetchAndStore(ctx context.Context, sourceURL string, declaredSize int64) (string, error)
	// Remove deletes previously stored media by its handle.
	Remove(storedContentId string) error
}

// Moderator reviews federated content after ingestion. The verdict
// only flags the row; it never blocks the inbox response.
type Moderator interface {
	Review(content *domain.Content) domain.ModerationStatus
}

// FollowerStore is the follower view the engine needs: endpoint
// snapshots at publish time and endpoint rewrites on migration.
type FollowerStore interface {
	ListFollowerInboxes(actorURI string) ([]string, error)
	UpdateFollowerEndpoint(oldActorURI, newActorURI, newInboxURI string) (int64, error)
}

// DBFollowerStore is the sqlite-backed default.
type DBFollowerStore struct {
	DB *db.DB
}

func (s *DBFollowerStore) ListFollowerInboxes(actorURI string) ([]string, error) {
	err, inboxes := s.DB.ReadFollowerInboxes(actorURI)
	return inboxes, err
}

func (s *DBFollowerStore) UpdateFollowerEndpoint(oldActorURI, newActorURI, newInboxURI string) (int64, error) {
	err, n := s.DB.MoveFollower(oldActorURI, newActorURI, newInboxURI)
	return n, err
}

// FileIngester downloads federated media into a local directory,
// separate from locally uploaded content. Downloads are capped at
// MaxBytes regardless of what the sender declared.
type FileIngester struct {
	Dir      string
	MaxBytes int64
	Client   *http.Client
}

func NewFileIngester(dir string, maxBytes int64) *FileIngester {
	return &FileIngester{Dir: dir, MaxBytes: maxBytes, Client: &http.Client{}}
}

func (f *FileIngester) FetchAndStore(ctx context.Context, sourceURL string, declaredSize int64) (string, error) {
	if declaredSize > f.MaxBytes {
		return "", fmt.Errorf("%w: declared size %d exceeds limit %d", domain.ErrValidation, declaredSize, f.MaxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media fetch failed with status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create federated dir: %w", err)
	}

	storedId := uuid.New().String()
	path := filepath.Join(f.Dir, storedId)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer out.Close()

	// Read one byte past the cap so an oversized body is detected
	// instead of silently truncated.
	n, err := io.Copy(out, io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("media download failed: %w", err)
	}
	if n > f.MaxBytes {
		os.Remove(path)
		return "", fmt.Errorf("%w: media body exceeds limit %d", domain.ErrValidation, f.MaxBytes)
	}

	return storedId, nil
}

func (f *FileIngester) Remove(storedContentId string) error {
	if storedContentId == "" {
		return nil
	}
	path := filepath.Join(f.Dir, filepath.Base(storedContentId))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
