package activitypub

import (
	"context"
	"fmt"
	"log"

	"github.com/veldt/anancus/domain"
)

// Outbox is the local publishing side: build an activity, persist it,
// fan it out to the follower endpoint snapshot taken at publish time.
type Outbox struct {
	Builder   *Builder
	Scheduler *Scheduler
	Followers FollowerStore
}

func NewOutbox(builder *Builder, scheduler *Scheduler, followers FollowerStore) *Outbox {
	return &Outbox{Builder: builder, Scheduler: scheduler, Followers: followers}
}

// PublishCreate announces new local content to all follower inboxes.
func (o *Outbox) PublishCreate(ctx context.Context, desc domain.ContentDescriptor) (*domain.Activity, error) {
	activity, err := o.Builder.BuildCreate(ctx, desc)
	if err != nil {
		return nil, err
	}
	return activity, o.fanOut(activity, desc.ActorURI)
}

// PublishInteraction announces a local Like, Announce or Note.
func (o *Outbox) PublishInteraction(ctx context.Context, kind domain.ActivityKind, actorURI string, targetURI string, payload string) (*domain.Activity, error) {
	activity, err := o.Builder.BuildInteraction(ctx, kind, actorURI, targetURI, payload)
	if err != nil {
		return nil, err
	}
	return activity, o.fanOut(activity, actorURI)
}

// InitiateMove announces an identity migration of a local actor to
// every follower, so remote instances rewrite their endpoint records.
// Returns the number of inboxes addressed.
func (o *Outbox) InitiateMove(ctx context.Context, actorURI string, newActorURI string) (*domain.Activity, int, error) {
	activity, err := o.Builder.BuildMove(ctx, actorURI, newActorURI)
	if err != nil {
		return nil, 0, err
	}
	inboxes, err := o.Followers.ListFollowerInboxes(actorURI)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to snapshot followers: %w", err)
	}
	if err := o.Scheduler.Publish(activity, inboxes); err != nil {
		return nil, 0, err
	}
	log.Printf("Outbox: Announced move of %s to %s across %d inboxes", actorURI, newActorURI, len(inboxes))
	return activity, len(inboxes), nil
}

func (o *Outbox) fanOut(activity *domain.Activity, actorURI string) error {
	inboxes, err := o.Followers.ListFollowerInboxes(actorURI)
	if err != nil {
		return fmt.Errorf("failed to snapshot followers: %w", err)
	}
	return o.Scheduler.Publish(activity, inboxes)
}
