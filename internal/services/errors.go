// Package services implements the matchmaking core: presence registry,
// candidate pool, pairing engine, reconnection hints, and the signaling
// relay. This file centralizes service-level error values so handlers can
// map them to HTTP results consistently.
package services

import "errors"

var (
	// ErrNoMatch means the candidate pool was exhausted without a pairing.
	// It is an expected polling outcome, not a fault.
	ErrNoMatch = errors.New("no match yet")

	// ErrNoPresence is returned when a participant attempts to matchmake
	// before publishing attributes and filters.
	ErrNoPresence = errors.New("presence not published")

	// ErrRateLimited is returned when a participant exceeds the allowed
	// matchmaking attempts inside the current window.
	ErrRateLimited = errors.New("matchmaking rate limit exceeded")

	// ErrNotAuthorized is returned for relay calls whose caller holds no
	// pair mapping for the pair, or the wrong role for the operation.
	ErrNotAuthorized = errors.New("not authorized for this pair")

	// ErrSDPConflict is returned when a second, distinct offer or answer is
	// posted for a pair that already stored one. Only one of each is valid.
	ErrSDPConflict = errors.New("conflicting session description already stored")

	// ErrNotYet signals that a polled payload (offer, answer) has not been
	// posted. Like ErrNoMatch it drives polling, never logging.
	ErrNotYet = errors.New("not posted yet")
)
