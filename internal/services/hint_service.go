// Package services – HintService
//
// This file implements reconnection hints: one-shot "go back to my previous
// peer" records. A "previous" UI action resolves the participant's lastpeer
// pointer into a wish on its own side and a wishedby on the peer's side; the
// pairing engine consumes both destructively so a hint can never redirect
// more than one matchmaking attempt.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/ditonachat/go-match-backend/internal/store"
)

// HintService owns lastpeer pointers and the one-shot wish records.
type HintService struct {
	Store store.Store

	// WishTTL bounds how long a recorded wish stays actionable.
	WishTTL time.Duration
	// LastPeerTTL bounds how long after a teardown "previous" still works.
	LastPeerTTL time.Duration
}

// NewHintService constructs a HintService with short default TTLs.
func NewHintService(st store.Store) *HintService {
	return &HintService{
		Store:       st,
		WishTTL:     8 * time.Second,
		LastPeerTTL: 60 * time.Second,
	}
}

// RecordLastPeers points each participant at the other. Called as a side
// effect of pairing and of teardown so a later "previous" action can find
// its way back.
func (s *HintService) RecordLastPeers(ctx context.Context, a, b string) error {
	if err := s.Store.Set(ctx, store.LastPeerKey(a), b, s.LastPeerTTL); err != nil {
		return err
	}
	return s.Store.Set(ctx, store.LastPeerKey(b), a, s.LastPeerTTL)
}

// Wish turns the caller's lastpeer pointer into the one-shot wish pair:
// wish:self=peer and wishedby:peer=self. Returns the wished peer id, or ""
// when no recent peer is known (not an error; the action is best-effort).
func (s *HintService) Wish(ctx context.Context, self string) (string, error) {
	peer, err := s.Store.Get(ctx, store.LastPeerKey(self))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if err := s.Store.Set(ctx, store.WishKey(self), peer, s.WishTTL); err != nil {
		return "", err
	}
	if err := s.Store.Set(ctx, store.WishedByKey(peer), self, s.WishTTL); err != nil {
		return "", err
	}
	return peer, nil
}

// ConsumeWish destructively reads the caller's own wish. The record is gone
// after the first read regardless of whether the pairing attempt succeeds.
func (s *HintService) ConsumeWish(ctx context.Context, self string) (string, bool, error) {
	return s.consume(ctx, store.WishKey(self))
}

// ConsumeWishedBy destructively reads the dual hint: some peer recently
// wished for self.
func (s *HintService) ConsumeWishedBy(ctx context.Context, self string) (string, bool, error) {
	return s.consume(ctx, store.WishedByKey(self))
}

func (s *HintService) consume(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Store.GetDel(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, v != "", nil
}
