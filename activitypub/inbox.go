package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/util"
)

// wireActivity is the transport shape of an inbound activity. Object
// stays raw because it can be a bare URI or an embedded document.
type wireActivity struct {
	Context   interface{}     `json:"@context"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	Target    string          `json:"target"`
	Content   string          `json:"content"`
	InReplyTo string          `json:"inReplyTo"`
	Summary   string          `json:"summary"`
}

type wireObject struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	URL          string `json:"url"`
	MediaType    string `json:"mediaType"`
	Duration     string `json:"duration"`
	Size         int64  `json:"size"`
	AttributedTo string `json:"attributedTo"`
	InReplyTo    string `json:"inReplyTo"`
	Attachment   []struct {
		MediaType string `json:"mediaType"`
		Href      string `json:"href"`
	} `json:"attachment"`
}

// Router handles inbound federation traffic. Verification comes before
// any body interpretation: an unverifiable request never touches the
// store. Every branch returns a typed result; the web layer owns the
// HTTP mapping.
type Router struct {
	DB        *db.DB
	Conf      *util.AppConfig
	Keys      KeyResolver
	Actors    *ActorFetcher
	Followers FollowerStore
	Scheduler *Scheduler
	Builder   *Builder
	Ingester  Ingester
	Moderator Moderator
}

func NewRouter(database *db.DB, conf *util.AppConfig, keys KeyResolver, actors *ActorFetcher, scheduler *Scheduler, builder *Builder, ingester Ingester) *Router {
	return &Router{
		DB:        database,
		Conf:      conf,
		Keys:      keys,
		Actors:    actors,
		Followers: &DBFollowerStore{DB: database},
		Scheduler: scheduler,
		Builder:   builder,
		Ingester:  ingester,
	}
}

// Receive processes one inbound activity and returns the typed
// outcome. It never panics on malformed input.
func (rt *Router) Receive(r *http.Request, body []byte) domain.InboxResult {
	signature := r.Header.Get("Signature")
	if signature == "" {
		log.Printf("Inbox: Missing HTTP signature")
		return domain.ResultUnauthorized
	}

	keyId, err := KeyIdFromSignature(signature)
	if err != nil {
		log.Printf("Inbox: %v", err)
		return domain.ResultUnauthorized
	}

	skew := time.Duration(rt.Conf.Conf.ClockSkewSec) * time.Second
	if skew <= 0 {
		skew = 300 * time.Second
	}
	if err := CheckDateSkew(r.Header.Get("Date"), time.Now(), skew); err != nil {
		log.Printf("Inbox: %v", err)
		return domain.ResultUnauthorized
	}

	fetchTimeout := time.Duration(rt.Conf.Conf.KeyFetchTimeoutSec) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	publicKeyPem, err := rt.Keys.PublicKeyPem(ctx, keyId)
	cancel()
	if err != nil {
		log.Printf("Inbox: Failed to resolve key %s: %v", keyId, err)
		return domain.ResultUnauthorized
	}

	verifiedActor, err := VerifyRequest(r, publicKeyPem)
	if err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		return domain.ResultUnauthorized
	}

	// The signature covers the Digest header; the header must in turn
	// match the body actually received.
	if r.Header.Get("Digest") != BodyDigest(body) {
		log.Printf("Inbox: Body digest mismatch")
		return domain.ResultUnauthorized
	}

	var wire wireActivity
	if err := json.Unmarshal(body, &wire); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		return domain.ResultBadRequest
	}
	if wire.ID == "" || wire.Type == "" || wire.Actor == "" {
		log.Printf("Inbox: Activity missing required fields")
		return domain.ResultBadRequest
	}
	kind := domain.ActivityKind(wire.Type)
	if !domain.KnownKind(kind) {
		log.Printf("Inbox: Unsupported activity type: %s", wire.Type)
		return domain.ResultBadRequest
	}

	// The signer must be the actor it claims to speak for
	if wire.Actor != verifiedActor {
		log.Printf("Inbox: Actor %s does not match signer %s", wire.Actor, verifiedActor)
		return domain.ResultForbidden
	}

	// Same activity URI seen before: acknowledge, change nothing
	if err, existing := rt.DB.ReadActivityByURI(wire.ID); err == nil && existing != nil {
		log.Printf("Inbox: Activity %s already known, ignoring", wire.ID)
		return domain.ResultAccepted
	}

	log.Printf("Inbox: Received %s from %s", wire.Type, wire.Actor)

	switch kind {
	case domain.KindCreate:
		return rt.handleCreate(r.Context(), &wire, body)
	case domain.KindNote:
		return rt.handleNote(&wire, body, wire.ID, wire.Content, wire.InReplyTo)
	case domain.KindLike:
		return rt.handleInteraction(&wire, body, domain.KindLike)
	case domain.KindAnnounce:
		return rt.handleInteraction(&wire, body, domain.KindAnnounce)
	case domain.KindDelete:
		return rt.handleDelete(&wire, body)
	case domain.KindMove:
		return rt.handleMove(r.Context(), &wire, body)
	case domain.KindReject:
		return rt.handleReject(&wire, body)
	}
	return domain.ResultBadRequest
}

// handleCreate routes on the embedded object type: Video goes through
// ingestion, Note becomes a comment when its target is local.
func (rt *Router) handleCreate(ctx context.Context, wire *wireActivity, body []byte) domain.InboxResult {
	var obj wireObject
	if len(wire.Object) == 0 || json.Unmarshal(wire.Object, &obj) != nil || obj.ID == "" {
		log.Printf("Inbox: Create without a usable object")
		return domain.ResultBadRequest
	}

	switch obj.Type {
	case "Video":
		return rt.handleVideo(ctx, wire, &obj, body)
	case "Note":
		return rt.handleNote(wire, body, obj.ID, obj.Content, obj.InReplyTo)
	default:
		log.Printf("Inbox: Unsupported Create object type: %s", obj.Type)
		return domain.ResultBadRequest
	}
}

func (rt *Router) handleVideo(ctx context.Context, wire *wireActivity, obj *wireObject, body []byte) domain.InboxResult {
	durationSec := parseISODurationSeconds(obj.Duration)

	if obj.Size > rt.Conf.MaxContentBytes() {
		reason := fmt.Sprintf("content size %d exceeds limit of %d bytes", obj.Size, rt.Conf.MaxContentBytes())
		return rt.rejectCreate(ctx, wire, reason)
	}
	if durationSec > rt.Conf.Conf.MaxDurationSeconds {
		reason := fmt.Sprintf("duration %ds exceeds limit of %ds", durationSec, rt.Conf.Conf.MaxDurationSeconds)
		return rt.rejectCreate(ctx, wire, reason)
	}

	mediaURL := obj.URL
	if len(obj.Attachment) > 0 && obj.Attachment[0].Href != "" {
		mediaURL = obj.Attachment[0].Href
	}
	if mediaURL == "" {
		return rt.rejectCreate(ctx, wire, "video object has no media url")
	}

	storedId, err := rt.Ingester.FetchAndStore(ctx, mediaURL, obj.Size)
	if err != nil {
		log.Printf("Inbox: Ingest of %s failed: %v", mediaURL, err)
		return rt.rejectCreate(ctx, wire, "media ingestion failed")
	}

	originInstance, _ := extractDomain(wire.Actor)
	content := &domain.Content{
		Id:              uuid.New(),
		ObjectURI:       obj.ID,
		ActorURI:        wire.Actor,
		Title:           obj.Name,
		Description:     obj.Content,
		MediaType:       obj.MediaType,
		DurationSeconds: durationSec,
		SizeBytes:       obj.Size,
		CanonicalURL:    obj.URL,
		Federated:       true,
		OriginInstance:  originInstance,
		OriginActorURI:  wire.Actor,
		StoredContentId: storedId,
		Moderation:      domain.ModerationPending,
		CreatedAt:       time.Now(),
	}
	if rt.Moderator != nil {
		content.Moderation = rt.Moderator.Review(content)
	}

	if err := rt.DB.CreateContent(content); err != nil {
		log.Printf("Inbox: Failed to store content %s: %v", obj.ID, err)
		rt.Ingester.Remove(storedId)
		return rt.rejectCreate(ctx, wire, "content could not be stored")
	}
	if err := rt.persistActivity(wire, body, domain.KindCreate, obj.ID); err != nil {
		log.Printf("Inbox: Failed to store Create activity: %v", err)
	}

	log.Printf("Inbox: Ingested federated video %s from %s", obj.ID, originInstance)
	return domain.ResultAccepted
}

// rejectCreate answers a failed ingest with an outbound Reject through
// the scheduler. Nothing of the failed Create is persisted.
func (rt *Router) rejectCreate(ctx context.Context, wire *wireActivity, reason string) domain.InboxResult {
	log.Printf("Inbox: Rejecting Create %s: %s", wire.ID, reason)

	localActor := rt.instanceActorURI()
	if localActor == "" || rt.Builder == nil || rt.Scheduler == nil {
		return domain.ResultRejected
	}

	original := &domain.Activity{URI: wire.ID, ActorURI: wire.Actor}
	reject, err := rt.Builder.BuildReject(ctx, localActor, original, reason)
	if err != nil {
		log.Printf("Inbox: Failed to build Reject: %v", err)
		return domain.ResultRejected
	}

	remote, err := rt.Actors.GetOrFetch(ctx, wire.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to resolve origin inbox for Reject: %v", err)
		return domain.ResultRejected
	}
	if err := rt.Scheduler.Publish(reject, []string{remote.InboxURI}); err != nil {
		log.Printf("Inbox: Failed to queue Reject: %v", err)
	}
	return domain.ResultRejected
}

func (rt *Router) handleNote(wire *wireActivity, body []byte, objectID string, content string, inReplyTo string) domain.InboxResult {
	if inReplyTo != "" {
		err, target := rt.DB.ReadContentByObjectURI(inReplyTo)
		if err == nil && target != nil {
			comment := &domain.Comment{
				Id:        uuid.New(),
				ContentId: target.Id,
				ObjectURI: objectID,
				ActorURI:  wire.Actor,
				Body:      content,
				Federated: true,
				CreatedAt: time.Now(),
			}
			if err := rt.DB.CreateComment(comment); err != nil {
				log.Printf("Inbox: Failed to store comment on %s: %v", inReplyTo, err)
			}
		}
	}

	kind := domain.ActivityKind(wire.Type)
	if err := rt.persistActivity(wire, body, kind, objectID); err != nil {
		log.Printf("Inbox: Failed to store %s activity: %v", kind, err)
		return domain.ResultBadRequest
	}
	return domain.ResultAccepted
}

// handleInteraction processes Like and Announce: the counter moves only
// when the target is local, the activity record is always kept.
func (rt *Router) handleInteraction(wire *wireActivity, body []byte, kind domain.ActivityKind) domain.InboxResult {
	targetURI := objectURIString(wire.Object)
	if targetURI == "" {
		log.Printf("Inbox: %s without target", kind)
		return domain.ResultBadRequest
	}

	if err := rt.persistActivity(wire, body, kind, targetURI); err != nil {
		log.Printf("Inbox: Failed to store %s activity: %v", kind, err)
		return domain.ResultBadRequest
	}

	err, target := rt.DB.ReadContentByObjectURI(targetURI)
	if err == nil && target != nil {
		var bumpErr error
		if kind == domain.KindLike {
			bumpErr = rt.DB.IncrementLikeCount(targetURI)
		} else {
			bumpErr = rt.DB.IncrementAnnounceCount(targetURI)
		}
		if bumpErr != nil {
			log.Printf("Inbox: Failed to bump counter on %s: %v", targetURI, bumpErr)
		}
	}
	return domain.ResultAccepted
}

// handleDelete removes the named object after an ownership check: only
// the actor that produced an object may delete it.
func (rt *Router) handleDelete(wire *wireActivity, body []byte) domain.InboxResult {
	objectURI := objectURIString(wire.Object)
	if objectURI == "" {
		log.Printf("Inbox: Delete without object")
		return domain.ResultBadRequest
	}

	// Actor deleting itself: drop the cached document and key
	if objectURI == wire.Actor {
		if err := rt.DB.DeleteRemoteActor(wire.Actor); err != nil {
			log.Printf("Inbox: Failed to drop actor %s: %v", wire.Actor, err)
		}
		if cache, ok := rt.Keys.(*KeyCache); ok {
			cache.Invalidate(wire.Actor + "#main-key")
		}
		if err := rt.persistActivity(wire, body, domain.KindDelete, objectURI); err != nil {
			log.Printf("Inbox: Failed to store Delete activity: %v", err)
		}
		return domain.ResultAccepted
	}

	err, content := rt.DB.ReadContentByObjectURI(objectURI)
	if err == nil && content != nil {
		if content.ActorURI != wire.Actor {
			log.Printf("Inbox: %s may not delete %s owned by %s", wire.Actor, objectURI, content.ActorURI)
			return domain.ResultForbidden
		}
		if rt.Ingester != nil {
			if err := rt.Ingester.Remove(content.StoredContentId); err != nil {
				log.Printf("Inbox: Failed to remove stored media %s: %v", content.StoredContentId, err)
			}
		}
		if err := rt.DB.DeleteContentByObjectURI(objectURI); err != nil {
			log.Printf("Inbox: Failed to delete content %s: %v", objectURI, err)
		}
	}

	err, activity := rt.DB.ReadActivityByObjectURI(objectURI)
	if err == nil && activity != nil {
		if activity.ActorURI != wire.Actor {
			log.Printf("Inbox: %s may not delete activity of %s", wire.Actor, activity.ActorURI)
			return domain.ResultForbidden
		}
		// Cascades the activity's delivery records
		if err := rt.DB.DeleteActivity(activity.Id); err != nil {
			log.Printf("Inbox: Failed to delete activity for %s: %v", objectURI, err)
		}
	}

	if err := rt.persistActivity(wire, body, domain.KindDelete, objectURI); err != nil {
		log.Printf("Inbox: Failed to store Delete activity: %v", err)
	}
	log.Printf("Inbox: Deleted %s on request of %s", objectURI, wire.Actor)
	return domain.ResultAccepted
}

// handleMove rewrites follower endpoints for a verified identity
// migration. The moving actor must name itself as the object; rows of
// other identities never change.
func (rt *Router) handleMove(ctx context.Context, wire *wireActivity, body []byte) domain.InboxResult {
	movedActor := objectURIString(wire.Object)
	if movedActor == "" || movedActor != wire.Actor {
		log.Printf("Inbox: Move object %q does not match actor %s", movedActor, wire.Actor)
		return domain.ResultBadRequest
	}
	if wire.Target == "" {
		log.Printf("Inbox: Move without target endpoint")
		return domain.ResultBadRequest
	}

	target, err := rt.Actors.GetOrFetch(ctx, wire.Target)
	if err != nil {
		log.Printf("Inbox: Failed to resolve Move target %s: %v", wire.Target, err)
		return domain.ResultBadRequest
	}

	updated, err := rt.Followers.UpdateFollowerEndpoint(wire.Actor, target.ActorURI, target.InboxURI)
	if err != nil {
		log.Printf("Inbox: Failed to rewrite followers for %s: %v", wire.Actor, err)
		return domain.ResultBadRequest
	}

	if cache, ok := rt.Keys.(*KeyCache); ok {
		cache.Invalidate(wire.Actor + "#main-key")
	}
	if err := rt.persistActivity(wire, body, domain.KindMove, movedActor); err != nil {
		log.Printf("Inbox: Failed to store Move activity: %v", err)
	}
	log.Printf("Inbox: Moved %s to %s, rewrote %d follower rows", wire.Actor, target.ActorURI, updated)
	return domain.ResultAccepted
}

// handleReject records a remote rejection of one of our activities for
// operator visibility.
func (rt *Router) handleReject(wire *wireActivity, body []byte) domain.InboxResult {
	rejectedURI := objectURIString(wire.Object)
	if rejectedURI != "" {
		err, ours := rt.DB.ReadActivityByURI(rejectedURI)
		if err == nil && ours != nil && ours.Local {
			log.Printf("Inbox: Remote %s rejected our activity %s: %s", wire.Actor, rejectedURI, wire.Summary)
		}
	}
	if err := rt.persistActivity(wire, body, domain.KindReject, rejectedURI); err != nil {
		log.Printf("Inbox: Failed to store Reject activity: %v", err)
		return domain.ResultBadRequest
	}
	return domain.ResultAccepted
}

func (rt *Router) persistActivity(wire *wireActivity, body []byte, kind domain.ActivityKind, objectURI string) error {
	return rt.DB.CreateActivity(&domain.Activity{
		Id:        uuid.New(),
		URI:       wire.ID,
		Kind:      kind,
		ActorURI:  wire.Actor,
		ObjectURI: objectURI,
		RawJSON:   string(body),
		Local:     false,
		CreatedAt: time.Now(),
	})
}

// instanceActorURI names the local actor speaking for this instance in
// outbound Rejects.
func (rt *Router) instanceActorURI() string {
	err, accounts := rt.DB.ReadAllAccounts()
	if err != nil && err != sql.ErrNoRows {
		return ""
	}
	if accounts == nil || len(*accounts) == 0 {
		return ""
	}
	return fmt.Sprintf("https://%s/users/%s", rt.Conf.Conf.SslDomain, (*accounts)[0].Username)
}

// objectURIString extracts a target URI from an object field that may
// be a bare string or an embedded document (including Tombstones).
func objectURIString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// parseISODurationSeconds reads the "PT<n>S" subset used for video
// durations. Anything unparseable counts as zero.
func parseISODurationSeconds(iso string) int {
	if !strings.HasPrefix(iso, "PT") || !strings.HasSuffix(iso, "S") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(iso, "PT"), "S"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
