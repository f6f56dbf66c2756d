// Package services – PoolService
//
// This file implements the priority queue and candidate pool. The waiting
// list is a global sorted set plus attribute-sharded sub-indices (by gender,
// by country, and VIP-boosted variants) so filtered lookups probe a handful
// of bounded head reads instead of scanning the whole pool. The resulting
// order is approximate FIFO within each priority tier, an accepted trade-off
// for sharded O(log n) lookups.
package services

import (
	"context"
	"time"

	"github.com/ditonachat/go-match-backend/internal/domain"
	"github.com/ditonachat/go-match-backend/internal/store"
)

// PoolService owns queue membership and candidate scanning.
type PoolService struct {
	Store store.Store

	// ProbeLimit bounds each per-tier head read.
	ProbeLimit int64
	// VIPBoost is subtracted from a VIP entry's effective timestamp so VIP
	// entries sort ahead without breaking FIFO ordering among VIPs.
	VIPBoost time.Duration
}

// NewPoolService constructs a PoolService with default probe bounds.
func NewPoolService(st store.Store) *PoolService {
	return &PoolService{
		Store:      st,
		ProbeLimit: 40,
		VIPBoost:   time.Hour,
	}
}

// Enqueue inserts id into the global queue and into the gender/country shards
// matching its attributes, at the given enqueue time. VIP participants are
// additionally indexed in the boosted variants with an earlier effective
// timestamp.
func (s *PoolService) Enqueue(ctx context.Context, id string, attrs domain.Attributes, vip bool, at time.Time) error {
	score := float64(at.UnixMilli())
	if err := s.Store.ZAdd(ctx, store.QueueAllKey(false), id, score); err != nil {
		return err
	}
	if attrs.Gender != "" {
		if err := s.Store.ZAdd(ctx, store.QueueGenderKey(attrs.Gender, false), id, score); err != nil {
			return err
		}
	}
	if attrs.Country != "" {
		if err := s.Store.ZAdd(ctx, store.QueueCountryKey(attrs.Country, false), id, score); err != nil {
			return err
		}
	}
	if !vip {
		return nil
	}
	boosted := float64(at.Add(-s.VIPBoost).UnixMilli())
	if err := s.Store.ZAdd(ctx, store.QueueAllKey(true), id, boosted); err != nil {
		return err
	}
	if attrs.Gender != "" {
		if err := s.Store.ZAdd(ctx, store.QueueGenderKey(attrs.Gender, true), id, boosted); err != nil {
			return err
		}
	}
	if attrs.Country != "" {
		if err := s.Store.ZAdd(ctx, store.QueueCountryKey(attrs.Country, true), id, boosted); err != nil {
			return err
		}
	}
	return nil
}

// Candidates builds an ordered, deduplicated list of candidate ids for a
// participant with the given filters. Probes run in priority order —
// VIP-country, country, VIP-gender, gender, VIP-global, global — and earlier
// probes win; duplicates keep their first-seen position. Sharded probes only
// run when the corresponding filter narrows to concrete values.
func (s *PoolService) Candidates(ctx context.Context, selfID string, filters domain.Filters) ([]string, error) {
	var probes []string
	if !filters.WantsAllCountries() {
		for _, c := range filters.Countries {
			probes = append(probes, store.QueueCountryKey(c, true))
		}
		for _, c := range filters.Countries {
			probes = append(probes, store.QueueCountryKey(c, false))
		}
	}
	if !filters.WantsAllGenders() {
		for _, g := range filters.Genders {
			probes = append(probes, store.QueueGenderKey(g, true))
		}
		for _, g := range filters.Genders {
			probes = append(probes, store.QueueGenderKey(g, false))
		}
	}
	probes = append(probes, store.QueueAllKey(true), store.QueueAllKey(false))

	seen := make(map[string]struct{})
	var out []string
	for _, key := range probes {
		head, err := s.Store.ZHead(ctx, key, s.ProbeLimit)
		if err != nil {
			return nil, err
		}
		for _, id := range head {
			if id == selfID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// Remove deletes id from every queue index. Gender and country may be empty
// (ghost entries whose attributes already expired); the sharded leftovers are
// then evicted lazily when a later probe encounters them.
func (s *PoolService) Remove(ctx context.Context, id, gender, country string) error {
	keys := []string{store.QueueAllKey(false), store.QueueAllKey(true)}
	if gender != "" {
		keys = append(keys, store.QueueGenderKey(gender, false), store.QueueGenderKey(gender, true))
	}
	if country != "" {
		keys = append(keys, store.QueueCountryKey(country, false), store.QueueCountryKey(country, true))
	}
	for _, key := range keys {
		if err := s.Store.ZRem(ctx, key, id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFrom evicts id from one specific probed index plus the two global
// queues. Used when a ghost surfaces during a shard probe.
func (s *PoolService) RemoveFrom(ctx context.Context, probedKey, id string) error {
	if err := s.Store.ZRem(ctx, probedKey, id); err != nil {
		return err
	}
	if err := s.Store.ZRem(ctx, store.QueueAllKey(false), id); err != nil {
		return err
	}
	return s.Store.ZRem(ctx, store.QueueAllKey(true), id)
}

// Depth returns the global queue depth, a cheap "people waiting" signal.
func (s *PoolService) Depth(ctx context.Context) (int64, error) {
	return s.Store.ZCard(ctx, store.QueueAllKey(false))
}
