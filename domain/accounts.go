package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is a local actor with its signing key pair. The private half
// never leaves the store except through a resolved signer.
type Account struct {
	Id            uuid.UUID
	Username      string
	DID           string // portable decentralized identity handle
	WebPublicKey  string // PEM
	WebPrivateKey string // PEM, never serialized outward
	CreatedAt     time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tDID: %s \n\tCreatedAt: %s)", acc.Id, acc.Username, acc.DID, acc.CreatedAt)
}

// RemoteActor is a cached remote actor document, keyed by actor URI.
type RemoteActor struct {
	ActorURI      string
	Username      string
	Domain        string
	InboxURI      string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// Follower is one entry of a local actor's follower endpoint set. The
// engine treats the set as a read-only snapshot at publish time.
type Follower struct {
	ActorURI         string // the local actor being followed
	FollowerActorURI string
	FollowerInboxURI string
	CreatedAt        time.Time
}
