// Package services – SignalService
//
// This file implements the signaling relay: idempotent storage and retrieval
// of one SDP offer and one answer per pair, plus per-role ICE candidate
// mailboxes, exchanged purely by polling. The server never touches media;
// it only ferries handshake blobs between the two sides of a pair.
//
// Authorization for every call is derived solely from the caller's own pair
// map: it must name the requested pair, and the role must fit the operation.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ditonachat/go-match-backend/internal/domain"
	"github.com/ditonachat/go-match-backend/internal/store"
)

// PairMapper resolves a participant's current pair mapping. MatchService
// satisfies it.
type PairMapper interface {
	PairMapOf(ctx context.Context, id string) (domain.PairMap, bool, error)
}

// SignalService is the store-and-poll signaling relay.
type SignalService struct {
	Store store.Store
	Pairs PairMapper

	// OfferTTL bounds offer/answer blobs; a pair that never completes its
	// handshake evaporates on its own.
	OfferTTL time.Duration
	// IdemTTL is the retransmission-absorption window for offer/answer POSTs.
	IdemTTL time.Duration
	// ICETTL and ICEMaxLen bound each per-role candidate mailbox.
	ICETTL    time.Duration
	ICEMaxLen int64
	// PairTTL is applied when signaling reads refresh pair liveness.
	PairTTL time.Duration
}

// NewSignalService wires the relay with production defaults.
func NewSignalService(st store.Store, pairs PairMapper) *SignalService {
	return &SignalService{
		Store:     st,
		Pairs:     pairs,
		OfferTTL:  45 * time.Second,
		IdemTTL:   30 * time.Second,
		ICETTL:    45 * time.Second,
		ICEMaxLen: 64,
		PairTTL:   60 * time.Second,
	}
}

// authorize loads the caller's pair map and checks it names pairID. When
// want is non-empty the caller's role must equal it.
func (s *SignalService) authorize(ctx context.Context, id, pairID string, want domain.Role) (domain.PairMap, error) {
	pm, ok, err := s.Pairs.PairMapOf(ctx, id)
	if err != nil {
		return domain.PairMap{}, err
	}
	if !ok || pm.PairID != pairID {
		return domain.PairMap{}, ErrNotAuthorized
	}
	if want != "" && pm.Role != want {
		return domain.PairMap{}, ErrNotAuthorized
	}
	return pm, nil
}

// refresh extends the pair record and both pair maps. Every successful relay
// read counts as liveness.
func (s *SignalService) refresh(ctx context.Context, id string, pm domain.PairMap) {
	_, _ = s.Store.Expire(ctx, store.PairKey(pm.PairID), s.PairTTL)
	_, _ = s.Store.Expire(ctx, store.PairMapKey(id), s.PairTTL)
	_, _ = s.Store.Expire(ctx, store.PairMapKey(pm.PeerID), s.PairTTL)
}

// PostOffer stores the caller's SDP offer with first-write-wins semantics.
// A retransmission of the identical payload (same client tag, or same body
// when no tag is given) is a no-op success; a distinct second offer is
// rejected with ErrSDPConflict.
func (s *SignalService) PostOffer(ctx context.Context, id, pairID, sdp, tag string) error {
	pm, err := s.authorize(ctx, id, pairID, domain.RoleCaller)
	if err != nil {
		return err
	}
	return s.postSDP(ctx, id, pm, store.OfferKey(pairID), sdp, tag)
}

// Offer returns the stored offer for the callee, or ErrNotYet.
func (s *SignalService) Offer(ctx context.Context, id, pairID string) (string, error) {
	pm, err := s.authorize(ctx, id, pairID, domain.RoleCallee)
	if err != nil {
		return "", err
	}
	return s.getSDP(ctx, id, pm, store.OfferKey(pairID))
}

// PostAnswer stores the callee's SDP answer, symmetric to PostOffer.
func (s *SignalService) PostAnswer(ctx context.Context, id, pairID, sdp, tag string) error {
	pm, err := s.authorize(ctx, id, pairID, domain.RoleCallee)
	if err != nil {
		return err
	}
	return s.postSDP(ctx, id, pm, store.AnswerKey(pairID), sdp, tag)
}

// Answer returns the stored answer for the caller, or ErrNotYet.
func (s *SignalService) Answer(ctx context.Context, id, pairID string) (string, error) {
	pm, err := s.authorize(ctx, id, pairID, domain.RoleCaller)
	if err != nil {
		return "", err
	}
	return s.getSDP(ctx, id, pm, store.AnswerKey(pairID))
}

func (s *SignalService) postSDP(ctx context.Context, id string, pm domain.PairMap, key, sdp, tag string) error {
	if tag == "" {
		sum := sha256.Sum256([]byte(sdp))
		tag = hex.EncodeToString(sum[:])
	}
	idemKey := store.IdemKey(pm.PairID, string(pm.Role), tag)
	if _, err := s.Store.Get(ctx, idemKey); err == nil {
		// Already processed inside the marker window.
		idemReplays.Inc()
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	stored, err := s.Store.SetNX(ctx, key, sdp, s.OfferTTL)
	if err != nil {
		return err
	}
	if !stored {
		existing, err := s.Store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Raced with its own expiry; one clean retry.
				if err := s.Store.Set(ctx, key, sdp, s.OfferTTL); err != nil {
					return err
				}
			} else {
				return err
			}
		} else if existing != sdp {
			return ErrSDPConflict
		} else {
			idemReplays.Inc()
		}
	}
	if err := s.Store.Set(ctx, idemKey, "1", s.IdemTTL); err != nil {
		return err
	}
	s.refresh(ctx, id, pm)
	return nil
}

func (s *SignalService) getSDP(ctx context.Context, id string, pm domain.PairMap, key string) (string, error) {
	sdp, err := s.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotYet
		}
		return "", err
	}
	s.refresh(ctx, id, pm)
	return sdp, nil
}

// AddICE appends a candidate to the caller's own role mailbox. The mailbox
// is bounded; the oldest entries are trimmed away.
func (s *SignalService) AddICE(ctx context.Context, id, pairID, candidate string) error {
	pm, err := s.authorize(ctx, id, pairID, "")
	if err != nil {
		return err
	}
	key := store.ICEKey(pairID, string(pm.Role))
	if err := s.Store.RPush(ctx, key, candidate, s.ICETTL, s.ICEMaxLen); err != nil {
		return err
	}
	s.refresh(ctx, id, pm)
	return nil
}

// ICE drains the peer's mailbox from the given cursor. Each side reads only
// what the other side wrote.
func (s *SignalService) ICE(ctx context.Context, id, pairID string, from int64) ([]string, error) {
	pm, err := s.authorize(ctx, id, pairID, "")
	if err != nil {
		return nil, err
	}
	key := store.ICEKey(pairID, string(pm.Role.Peer()))
	vals, err := s.Store.LRange(ctx, key, from)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, id, pm)
	return vals, nil
}
