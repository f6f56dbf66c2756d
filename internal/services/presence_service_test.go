package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ditonachat/go-match-backend/internal/domain"
	"github.com/ditonachat/go-match-backend/internal/store"
)

func TestPublishAndResolve(t *testing.T) {
	ctx := context.Background()
	c := newTestCore()

	err := c.presence.Publish(ctx, "p1",
		domain.Attributes{Gender: " Female", Country: "de"},
		domain.Filters{Genders: []string{"MALE"}, Countries: []string{"us", "??"}},
		false,
	)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	attrs, filters, err := c.presence.Resolve(ctx, "p1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attrs.Gender != "female" || attrs.Country != "DE" {
		t.Errorf("attributes not normalized: %+v", attrs)
	}
	if len(filters.Genders) != 1 || filters.Genders[0] != "male" {
		t.Errorf("gender filters = %v", filters.Genders)
	}
	// The unparseable country was dropped during normalization.
	if len(filters.Countries) != 1 || filters.Countries[0] != "US" {
		t.Errorf("country filters = %v", filters.Countries)
	}

	// Publishing also enqueues.
	if depth, _ := c.pool.Depth(ctx); depth != 1 {
		t.Errorf("queue depth after publish = %d", depth)
	}
}

func TestResolveExpiredPresence(t *testing.T) {
	ctx := context.Background()
	c := newTestCore()

	c.presence.Publish(ctx, "p1", domain.Attributes{Gender: "male"}, domain.Filters{}, false)
	c.clock.Advance(c.presence.AttrsTTL + time.Second)

	if _, _, err := c.presence.Resolve(ctx, "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Resolve after TTL = %v, want ErrNotFound", err)
	}
}

func TestResolveFallsBackToOpenFilters(t *testing.T) {
	ctx := context.Background()
	c := newTestCore()

	// Attributes present, filters hash missing.
	c.store.HSet(ctx, store.AttrsKey("p1"), map[string]string{"gender": "male"}, time.Minute)

	_, filters, err := c.presence.Resolve(ctx, "p1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !filters.WantsAllGenders() || !filters.WantsAllCountries() {
		t.Errorf("missing filters must resolve as fully open, got %+v", filters)
	}
}
