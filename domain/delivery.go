package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryState is the state machine of a single delivery record.
// Transitions are monotone: pending -> in_flight -> {delivered |
// pending (retry) | failed_permanent | failed_exhausted}.
type DeliveryState string

const (
	DeliveryPending         DeliveryState = "pending"
	DeliveryInFlight        DeliveryState = "in_flight"
	DeliveryDelivered       DeliveryState = "delivered"
	DeliveryFailedPermanent DeliveryState = "failed_permanent"
	DeliveryFailedExhausted DeliveryState = "failed_exhausted"
)

// Terminal reports whether the state permits no further attempts.
func (s DeliveryState) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryFailedPermanent, DeliveryFailedExhausted:
		return true
	}
	return false
}

// DeliveryRecord tracks one (activity, destination inbox) pair.
// A record is owned by its activity and destroyed with it.
type DeliveryRecord struct {
	Id            uuid.UUID
	ActivityId    uuid.UUID
	ActivityURI   string
	ActorURI      string
	InboxURI      string
	State         DeliveryState
	Attempts      int
	NextAttemptAt time.Time // zero when state is terminal
	LastError     string
	CreatedAt     time.Time
}

// InstanceHealth tracks consecutive exhausted deliveries per endpoint,
// for operator visibility only. An unreachable endpoint still accepts
// new publishes; instances recover.
type InstanceHealth struct {
	InboxURI             string
	ConsecutiveExhausted int
	Unreachable          bool
	UpdatedAt            time.Time
}
