// Package store is the thin client for the shared ephemeral key-value store.
// All cross-worker coordination in the system — queues, claims, locks, pair
// records, signaling payloads — goes through the atomic primitives exposed
// here. Workers are stateless; nothing is held in process memory between
// requests.
//
// Two implementations exist: Redis (production) and Memory (tests). Both obey
// the same TTL semantics: every written key expires on its own, and readers
// must treat a vanished key as the normal case, not an error.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent (or already expired). It is a
// "not yet" condition for pollers, never a fault.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps transport-level failures (timeout, refused connection).
// Callers retry on their next poll instead of failing the session.
var ErrUnavailable = errors.New("store: unavailable")

// Store is the narrow contract the rest of the system depends on. Every
// method is safe for concurrent use and honors ctx cancellation; blocking
// time is bounded by the per-operation timeout of the implementation.
type Store interface {
	// TryAcquire atomically sets key=val with a TTL only if the key is absent.
	// It reports whether this caller now holds the token.
	TryAcquire(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	// Release deletes key only while it still holds val, so an expired token
	// re-acquired by someone else is never clobbered.
	Release(ctx context.Context, key, val string) error

	Set(ctx context.Context, key, val string, ttl time.Duration) error
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	// GetDel reads and deletes in one step; the backbone of one-shot hints.
	GetDel(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	// Expire resets a key's TTL, reporting whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// HSet overwrites fields of a hash and sets the hash TTL.
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// HGetAll returns ErrNotFound for an absent hash.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ZAdd inserts member with score (or updates its score).
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZHead returns up to limit members in ascending score order.
	ZHead(ctx context.Context, key string, limit int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// SAdd adds member to a set and refreshes the set TTL.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Incr increments a counter, arming the TTL on first increment so the
	// window slides as a whole.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// RPush appends to a list, trims it to the newest maxLen entries, and
	// refreshes the list TTL.
	RPush(ctx context.Context, key, val string, ttl time.Duration, maxLen int64) error
	// LRange returns list entries from index start to the end.
	LRange(ctx context.Context, key string, start int64) ([]string, error)
}
