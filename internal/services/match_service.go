// Package services – MatchService
//
// This file implements the pairing engine. A matchmaking attempt scans a
// bounded candidate window, applies mutual filter compatibility, and commits
// via a two-token protocol: a Claim on the candidate, then a Pair Lock on the
// unordered id pair, with a re-read of the candidate's state under the lock.
// At most one pair record is ever created per unordered pair of participants,
// and the engine leaves no partial state behind on any exit path.
package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ditonachat/go-match-backend/internal/domain"
	"github.com/ditonachat/go-match-backend/internal/store"
)

// MatchService is the pairing engine.
type MatchService struct {
	Store    store.Store
	Presence *PresenceService
	Pool     *PoolService
	Hints    *HintService

	// ClaimTTL / LockTTL bound the two mutual-exclusion tokens so a crashed
	// worker can never wedge a candidate.
	ClaimTTL time.Duration
	LockTTL  time.Duration
	// MatchingTTL serializes a participant's own concurrent polls.
	MatchingTTL time.Duration
	// PairTTL is the initial lifetime of the pair record and pair maps;
	// signaling activity refreshes it.
	PairTTL time.Duration
	// SeenTTL prevents immediate rematching with the same peer.
	SeenTTL time.Duration
	// RateMax attempts per RateWindow per participant, enforced through the
	// shared store so it holds across worker instances.
	RateMax    int64
	RateWindow time.Duration
	// AllowAll is the operator override that bypasses filter compatibility.
	AllowAll bool

	now func() time.Time
}

// NewMatchService wires the pairing engine with production defaults.
func NewMatchService(st store.Store, presence *PresenceService, pool *PoolService, hints *HintService) *MatchService {
	return &MatchService{
		Store:       st,
		Presence:    presence,
		Pool:        pool,
		Hints:       hints,
		ClaimTTL:    5 * time.Second,
		LockTTL:     5 * time.Second,
		MatchingTTL: 5 * time.Second,
		PairTTL:     60 * time.Second,
		SeenTTL:     90 * time.Second,
		RateMax:     8,
		RateWindow:  10 * time.Second,
		now:         time.Now,
	}
}

// Matchmake runs one pairing attempt for self. It returns ErrRateLimited,
// ErrNoPresence, ErrNoMatch, or a committed Match in which self is the
// caller. A participant paired by someone else's attempt gets its pairing
// back here too, read from its own pair map.
func (s *MatchService) Matchmake(ctx context.Context, self string) (domain.Match, error) {
	n, err := s.Store.Incr(ctx, store.RateKey(self), s.RateWindow)
	if err != nil {
		return domain.Match{}, err
	}
	if n > s.RateMax {
		return domain.Match{}, ErrRateLimited
	}

	// One attempt per participant at a time; a concurrent poll of the same
	// participant simply sees "no match yet" and retries.
	token := uuid.NewString()
	held, err := s.Store.TryAcquire(ctx, store.MatchingKey(self), token, s.MatchingTTL)
	if err != nil {
		return domain.Match{}, err
	}
	if !held {
		return domain.Match{}, ErrNoMatch
	}
	defer s.Store.Release(context.WithoutCancel(ctx), store.MatchingKey(self), token)

	// Someone may have already paired us; report that instead of searching.
	if pm, ok, err := s.PairMapOf(ctx, self); err != nil {
		return domain.Match{}, err
	} else if ok {
		return domain.Match{PairID: pm.PairID, Role: pm.Role, PeerID: pm.PeerID}, nil
	}

	selfAttrs, selfFilters, err := s.Presence.Resolve(ctx, self)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Match{}, ErrNoPresence
		}
		return domain.Match{}, err
	}

	// Reconnection hints take priority over the pool, and are consumed on
	// first read whether or not the attempt works out.
	for _, consume := range []func(context.Context, string) (string, bool, error){
		s.Hints.ConsumeWish, s.Hints.ConsumeWishedBy,
	} {
		peer, ok, err := consume(ctx, self)
		if err != nil {
			return domain.Match{}, err
		}
		if !ok || peer == self {
			continue
		}
		if m, paired, err := s.tryPair(ctx, self, selfAttrs, selfFilters, peer, "reconnect"); err != nil {
			return domain.Match{}, err
		} else if paired {
			return m, nil
		}
	}

	candidates, err := s.Pool.Candidates(ctx, self, selfFilters)
	if err != nil {
		return domain.Match{}, err
	}
	for _, cand := range candidates {
		seen, err := s.Store.SIsMember(ctx, store.SeenKey(self), cand)
		if err != nil {
			return domain.Match{}, err
		}
		if seen {
			continue
		}
		candAttrs, err := s.Presence.Attributes(ctx, cand)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Stale queue entry: its presence TTL already fired.
				ghostsEvicted.Inc()
				_ = s.Pool.Remove(ctx, cand, "", "")
				continue
			}
			return domain.Match{}, err
		}
		if !s.AllowAll && !selfFilters.Accepts(candAttrs) {
			continue
		}
		if m, paired, err := s.tryPair(ctx, self, selfAttrs, selfFilters, cand, "pool"); err != nil {
			return domain.Match{}, err
		} else if paired {
			return m, nil
		}
	}

	matchMisses.Inc()
	return domain.Match{}, ErrNoMatch
}

// tryPair attempts the atomic commit protocol against one candidate. A false
// return means the candidate was contested, stale, or incompatible under the
// lock; the scan moves on. Held tokens are released on every path.
func (s *MatchService) tryPair(ctx context.Context, self string, selfAttrs domain.Attributes, selfFilters domain.Filters, cand, source string) (domain.Match, bool, error) {
	claimed, err := s.Store.TryAcquire(ctx, store.ClaimKey(cand), self, s.ClaimTTL)
	if err != nil {
		return domain.Match{}, false, err
	}
	if !claimed {
		claimConflicts.Inc()
		return domain.Match{}, false, nil
	}
	release := func() {
		bg := context.WithoutCancel(ctx)
		_ = s.Store.Release(bg, store.ClaimKey(cand), self)
	}

	lockKey := store.PairLockKey(self, cand)
	locked, err := s.Store.TryAcquire(ctx, lockKey, self, s.LockTTL)
	if err != nil {
		release()
		return domain.Match{}, false, err
	}
	if !locked {
		lockConflicts.Inc()
		release()
		return domain.Match{}, false, nil
	}
	unlock := func() {
		bg := context.WithoutCancel(ctx)
		_ = s.Store.Release(bg, lockKey, self)
		release()
	}

	// Re-check everything under the lock; the pool scan may have acted on
	// data that has since changed.
	if _, paired, err := s.PairMapOf(ctx, cand); err != nil {
		unlock()
		return domain.Match{}, false, err
	} else if paired {
		unlock()
		return domain.Match{}, false, nil
	}
	if _, paired, err := s.PairMapOf(ctx, self); err != nil {
		unlock()
		return domain.Match{}, false, err
	} else if paired {
		unlock()
		return domain.Match{}, false, nil
	}
	candAttrs, candFilters, err := s.Presence.Resolve(ctx, cand)
	if err != nil {
		unlock()
		if errors.Is(err, store.ErrNotFound) {
			ghostsEvicted.Inc()
			_ = s.Pool.Remove(ctx, cand, "", "")
			return domain.Match{}, false, nil
		}
		return domain.Match{}, false, err
	}
	if !s.AllowAll && !domain.MutuallyCompatible(selfAttrs, selfFilters, candAttrs, candFilters) {
		unlock()
		return domain.Match{}, false, nil
	}

	now := s.now()
	pairID := newPairID()
	if err := s.Store.HSet(ctx, store.PairKey(pairID), map[string]string{
		"caller":  self,
		"callee":  cand,
		"created": strconv.FormatInt(now.UnixMilli(), 10),
	}, s.PairTTL); err != nil {
		unlock()
		return domain.Match{}, false, err
	}
	if err := s.writePairMap(ctx, self, pairID, domain.RoleCaller, cand); err != nil {
		unlock()
		return domain.Match{}, false, err
	}
	if err := s.writePairMap(ctx, cand, pairID, domain.RoleCallee, self); err != nil {
		unlock()
		return domain.Match{}, false, err
	}

	// Best-effort bookkeeping; TTLs clean up anything we miss here.
	_ = s.Pool.Remove(ctx, self, selfAttrs.Gender, selfAttrs.Country)
	_ = s.Pool.Remove(ctx, cand, candAttrs.Gender, candAttrs.Country)
	_ = s.Store.SAdd(ctx, store.SeenKey(self), cand, s.SeenTTL)
	_ = s.Store.SAdd(ctx, store.SeenKey(cand), self, s.SeenTTL)
	_ = s.Hints.RecordLastPeers(ctx, self, cand)

	unlock()
	matchesMade.WithLabelValues(source).Inc()
	return domain.Match{PairID: pairID, Role: domain.RoleCaller, PeerID: cand}, true, nil
}

// PairMapOf reads a participant's current pair mapping.
func (s *MatchService) PairMapOf(ctx context.Context, id string) (domain.PairMap, bool, error) {
	h, err := s.Store.HGetAll(ctx, store.PairMapKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PairMap{}, false, nil
		}
		return domain.PairMap{}, false, err
	}
	return domain.PairMap{
		PairID: h["pair"],
		Role:   domain.Role(h["role"]),
		PeerID: h["peer"],
	}, true, nil
}

func (s *MatchService) writePairMap(ctx context.Context, id, pairID string, role domain.Role, peer string) error {
	return s.Store.HSet(ctx, store.PairMapKey(id), map[string]string{
		"pair": pairID,
		"role": string(role),
		"peer": peer,
	}, s.PairTTL)
}

// Leave is the best-effort "stop" cleanup: drop queue membership and the
// caller's pair map, and leave lastpeer pointers behind so "previous" still
// works. Correctness never depends on this running; TTLs cover the rest.
// Safe to call repeatedly.
func (s *MatchService) Leave(ctx context.Context, id string) error {
	gender, country := "", ""
	if attrs, err := s.Presence.Attributes(ctx, id); err == nil {
		gender, country = attrs.Gender, attrs.Country
	}
	if err := s.Pool.Remove(ctx, id, gender, country); err != nil {
		return err
	}
	pm, ok, err := s.PairMapOf(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		_ = s.Hints.RecordLastPeers(ctx, id, pm.PeerID)
		if err := s.Store.Del(ctx, store.PairMapKey(id)); err != nil {
			return err
		}
	}
	return nil
}

// SweepGhosts removes up to limit global-queue entries whose attributes have
// expired. Correctness comes from TTLs alone; this pass only buys promptness.
func (s *MatchService) SweepGhosts(ctx context.Context, limit int64) (int, error) {
	head, err := s.Store.ZHead(ctx, store.QueueAllKey(false), limit)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, id := range head {
		_, err := s.Presence.Attributes(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return evicted, err
		}
		if err := s.Pool.Remove(ctx, id, "", ""); err != nil {
			return evicted, err
		}
		ghostsEvicted.Inc()
		evicted++
	}
	return evicted, nil
}

// newPairID returns a time-ordered unique pair identifier.
func newPairID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
