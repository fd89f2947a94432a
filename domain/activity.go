package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityKind is the closed set of activity types the engine handles.
type ActivityKind string

const (
	KindCreate   ActivityKind = "Create"
	KindLike     ActivityKind = "Like"
	KindNote     ActivityKind = "Note"
	KindAnnounce ActivityKind = "Announce"
	KindDelete   ActivityKind = "Delete"
	KindMove     ActivityKind = "Move"
	KindReject   ActivityKind = "Reject"
)

// KnownKind reports whether k is one of the kinds the router dispatches on.
func KnownKind(k ActivityKind) bool {
	switch k {
	case KindCreate, KindLike, KindNote, KindAnnounce, KindDelete, KindMove, KindReject:
		return true
	}
	return false
}

// Activity is an immutable record of a protocol message, local or remote.
type Activity struct {
	Id        uuid.UUID
	URI       string // globally unique activity URI, never reused
	Kind      ActivityKind
	ActorURI  string
	ObjectURI string // target of the activity, empty for some kinds
	RawJSON   string // the canonical document as transmitted
	Local     bool   // true if created on this instance
	CreatedAt time.Time
}

// InboxResult is the typed outcome of handling one inbound activity.
// The web layer owns the mapping to HTTP status codes.
type InboxResult int

const (
	ResultAccepted InboxResult = iota
	ResultUnauthorized
	ResultBadRequest
	ResultForbidden
	ResultRejected
)

func (r InboxResult) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultUnauthorized:
		return "unauthorized"
	case ResultBadRequest:
		return "bad request"
	case ResultForbidden:
		return "forbidden"
	case ResultRejected:
		return "rejected"
	}
	return "unknown"
}

// HTTPStatus maps the result to the outward transport status code.
func (r InboxResult) HTTPStatus() int {
	switch r {
	case ResultAccepted:
		return 202
	case ResultUnauthorized:
		return 401
	case ResultBadRequest:
		return 400
	case ResultForbidden:
		return 403
	case ResultRejected:
		return 422
	}
	return 500
}
