package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veldt/anancus/domain"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// Builder constructs signed outbound activities for local actors. Every
// build resolves the actor's signer first, so an actor without key
// material fails fast with domain.ErrKeyUnavailable instead of leaving
// an undeliverable activity behind.
type Builder struct {
	Domain string // instance domain used for minted URIs
	Keys   KeyResolver
}

func NewBuilder(instanceDomain string, keys KeyResolver) *Builder {
	return &Builder{Domain: instanceDomain, Keys: keys}
}

// BuildCreate wraps a content descriptor into a Create activity with a
// Video object. One attachment per declared variant; the builder trusts
// the caller that the variants are ready to serve.
func (b *Builder) BuildCreate(ctx context.Context, desc domain.ContentDescriptor) (*domain.Activity, error) {
	if _, _, err := b.Keys.Signer(ctx, desc.ActorURI); err != nil {
		return nil, err
	}

	attachments := make([]map[string]interface{}, 0, len(desc.Variants))
	for _, v := range desc.Variants {
		attachments = append(attachments, map[string]interface{}{
			"type":      "Link",
			"mediaType": v.MediaType,
			"href":      v.URL,
		})
	}

	id := uuid.New()
	uri := b.mintURI(id)
	objectURI := fmt.Sprintf("https://%s/contents/%s", b.Domain, desc.Id.String())

	doc := map[string]interface{}{
		"@context":  activityStreamsContext,
		"id":        uri,
		"type":      "Create",
		"actor":     desc.ActorURI,
		"published": desc.PublishedAt.UTC().Format(time.RFC3339),
		"to":        []string{activityStreamsContext + "#Public"},
		"cc":        []string{desc.ActorURI + "/followers"},
		"object": map[string]interface{}{
			"id":           objectURI,
			"type":         "Video",
			"attributedTo": desc.ActorURI,
			"name":         desc.Title,
			"content":      desc.Body,
			"url":          desc.CanonicalURL,
			"mediaType":    desc.MediaType,
			"duration":     fmt.Sprintf("PT%dS", desc.DurationSeconds),
			"published":    desc.PublishedAt.UTC().Format(time.RFC3339),
			"attachment":   attachments,
		},
	}

	return b.finish(id, uri, domain.KindCreate, desc.ActorURI, objectURI, doc)
}

// BuildInteraction builds a Like, Announce or Note activity aimed at a
// target object. Notes carry free text and reference the target via
// inReplyTo; Like and Announce carry the bare target reference.
func (b *Builder) BuildInteraction(ctx context.Context, kind domain.ActivityKind, actorURI string, targetURI string, payload string) (*domain.Activity, error) {
	switch kind {
	case domain.KindLike, domain.KindAnnounce, domain.KindNote:
	default:
		return nil, fmt.Errorf("%w: %s is not an interaction kind", domain.ErrValidation, kind)
	}
	if _, _, err := b.Keys.Signer(ctx, actorURI); err != nil {
		return nil, err
	}

	id := uuid.New()
	uri := b.mintURI(id)

	doc := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       uri,
		"type":     string(kind),
		"actor":    actorURI,
	}
	if kind == domain.KindNote {
		doc["content"] = payload
		doc["inReplyTo"] = targetURI
	} else {
		doc["object"] = targetURI
	}

	return b.finish(id, uri, kind, actorURI, targetURI, doc)
}

// BuildReject builds a Reject addressed back to the origin actor of a
// failed inbound activity.
func (b *Builder) BuildReject(ctx context.Context, localActorURI string, original *domain.Activity, reason string) (*domain.Activity, error) {
	if _, _, err := b.Keys.Signer(ctx, localActorURI); err != nil {
		return nil, err
	}

	id := uuid.New()
	uri := b.mintURI(id)

	doc := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       uri,
		"type":     "Reject",
		"actor":    localActorURI,
		"to":       []string{original.ActorURI},
		"object":   original.URI,
		"summary":  reason,
	}

	return b.finish(id, uri, domain.KindReject, localActorURI, original.URI, doc)
}

// BuildMove builds an identity migration announcement: the actor moves
// itself (actor == object) to the new endpoint named by target.
func (b *Builder) BuildMove(ctx context.Context, actorURI string, newActorURI string) (*domain.Activity, error) {
	if _, _, err := b.Keys.Signer(ctx, actorURI); err != nil {
		return nil, err
	}

	id := uuid.New()
	uri := b.mintURI(id)

	doc := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       uri,
		"type":     "Move",
		"actor":    actorURI,
		"object":   actorURI,
		"target":   newActorURI,
	}

	return b.finish(id, uri, domain.KindMove, actorURI, actorURI, doc)
}

func (b *Builder) mintURI(id uuid.UUID) string {
	return fmt.Sprintf("https://%s/activities/%s", b.Domain, id.String())
}

func (b *Builder) finish(id uuid.UUID, uri string, kind domain.ActivityKind, actorURI string, objectURI string, doc map[string]interface{}) (*domain.Activity, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}
	return &domain.Activity{
		Id:        id,
		URI:       uri,
		Kind:      kind,
		ActorURI:  actorURI,
		ObjectURI: objectURI,
		RawJSON:   string(raw),
		Local:     true,
		CreatedAt: time.Now(),
	}, nil
}
