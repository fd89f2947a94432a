package domain

import "errors"

// Error taxonomy of the federation engine. Delivery-side failures stay
// inside the scheduler's state machine; these sentinels cover what
// callers need to branch on.
var (
	// ErrKeyUnavailable means no key material could be resolved for an
	// actor. Fatal for the single build call, never retried.
	ErrKeyUnavailable = errors.New("key material unavailable")

	// ErrValidation means federated content exceeds the configured
	// limits and triggers an outbound Reject instead of ingestion.
	ErrValidation = errors.New("content validation failed")

	// ErrNotFound is returned by lookups that found no row.
	ErrNotFound = errors.New("not found")
)
