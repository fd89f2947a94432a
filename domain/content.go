package domain

import (
	"time"

	"github.com/google/uuid"
)

// Variant is one ready-to-serve rendition of a piece of content.
type Variant struct {
	MediaType string
	URL       string
}

// ContentDescriptor is what the local publishing pipeline hands the
// builder: everything needed to construct a Create activity. The
// builder does not verify that the variants actually exist; declaring
// them ready is the caller's contract.
type ContentDescriptor struct {
	Id              uuid.UUID
	ActorURI        string
	Title           string
	Body            string
	PublishedAt     time.Time
	CanonicalURL    string
	MediaType       string
	DurationSeconds int
	Variants        []Variant
}

// ModerationStatus of a content record.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// Content is a content record known to this instance, local or
// federated. Federated rows preserve their origin actor and endpoint.
type Content struct {
	Id              uuid.UUID
	ObjectURI       string // ActivityPub object URI, unique
	ActorURI        string
	Title           string
	Description     string
	MediaType       string
	DurationSeconds int
	SizeBytes       int64
	CanonicalURL    string
	Federated       bool
	OriginInstance  string // empty for local content
	OriginActorURI  string
	StoredContentId string // handle returned by the ingest collaborator
	LikeCount       int
	AnnounceCount   int
	CommentCount    int
	Moderation      ModerationStatus
	CreatedAt       time.Time
}

// Comment is a reply linked to a local content record.
type Comment struct {
	Id        uuid.UUID
	ContentId uuid.UUID
	ObjectURI string
	ActorURI  string
	Body      string
	Federated bool
	CreatedAt time.Time
}
