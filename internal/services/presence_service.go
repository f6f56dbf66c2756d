// Package services – PresenceService
//
// This file implements the presence and attribute registry. A participant's
// attributes and filters are short-TTL hashes owned by the participant's own
// polling client; publishing also (re)inserts the participant into every
// queue index with a fresh timestamp. Presence expiring is the system's only
// notion of a participant leaving without saying goodbye.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ditonachat/go-match-backend/internal/domain"
	"github.com/ditonachat/go-match-backend/internal/store"
)

// PresenceService owns the Attributes and Filters records.
type PresenceService struct {
	Store store.Store
	Pool  *PoolService

	// AttrsTTL bounds how long an unrefreshed presence stays visible.
	AttrsTTL time.Duration

	now func() time.Time
}

// NewPresenceService constructs a PresenceService with the default 120s
// presence TTL.
func NewPresenceService(st store.Store, pool *PoolService) *PresenceService {
	return &PresenceService{
		Store:    st,
		Pool:     pool,
		AttrsTTL: 120 * time.Second,
		now:      time.Now,
	}
}

// Publish upserts the participant's attributes and filters and re-enqueues it
// into the global and sharded queue indices. It is called on enqueue and
// whenever filters change mid-wait. Store errors are returned as retryable;
// the caller degrades to "try again next poll".
func (s *PresenceService) Publish(ctx context.Context, id string, attrs domain.Attributes, filters domain.Filters, vip bool) error {
	now := s.now()

	attrs.Gender = domain.NormalizeGender(attrs.Gender)
	attrs.Country = domain.NormalizeCountry(attrs.Country)
	filters.Genders = domain.NormalizeGenders(filters.Genders)
	filters.Countries = domain.NormalizeCountries(filters.Countries)

	if err := s.Store.HSet(ctx, store.AttrsKey(id), map[string]string{
		"gender":  attrs.Gender,
		"country": attrs.Country,
		"ts":      strconv.FormatInt(now.Unix(), 10),
	}, s.AttrsTTL); err != nil {
		return err
	}
	if err := s.Store.HSet(ctx, store.FiltersKey(id), map[string]string{
		"genders":   strings.Join(filters.Genders, ","),
		"countries": strings.Join(filters.Countries, ","),
		"ts":        strconv.FormatInt(now.Unix(), 10),
	}, s.AttrsTTL); err != nil {
		return err
	}
	return s.Pool.Enqueue(ctx, id, attrs, vip, now)
}

// Attributes loads a participant's published attributes. store.ErrNotFound
// means the presence expired (or never existed).
func (s *PresenceService) Attributes(ctx context.Context, id string) (domain.Attributes, error) {
	h, err := s.Store.HGetAll(ctx, store.AttrsKey(id))
	if err != nil {
		return domain.Attributes{}, err
	}
	ts, _ := strconv.ParseInt(h["ts"], 10, 64)
	return domain.Attributes{
		Gender:    h["gender"],
		Country:   h["country"],
		Timestamp: time.Unix(ts, 0),
	}, nil
}

// Filters loads a participant's published filters. A missing record is
// treated as fully-open filters only when attributes still exist; callers
// that need the distinction check Attributes first.
func (s *PresenceService) Filters(ctx context.Context, id string) (domain.Filters, error) {
	h, err := s.Store.HGetAll(ctx, store.FiltersKey(id))
	if err != nil {
		return domain.Filters{}, err
	}
	ts, _ := strconv.ParseInt(h["ts"], 10, 64)
	return domain.Filters{
		Genders:   splitCSV(h["genders"]),
		Countries: splitCSV(h["countries"]),
		Timestamp: time.Unix(ts, 0),
	}, nil
}

// Resolve loads attributes and filters together. Absent attributes dominate:
// the participant is simply not present.
func (s *PresenceService) Resolve(ctx context.Context, id string) (domain.Attributes, domain.Filters, error) {
	attrs, err := s.Attributes(ctx, id)
	if err != nil {
		return domain.Attributes{}, domain.Filters{}, err
	}
	filters, err := s.Filters(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Attributes outlived filters; treat as fully open.
			return attrs, domain.Filters{}, nil
		}
		return domain.Attributes{}, domain.Filters{}, err
	}
	return attrs, filters, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
