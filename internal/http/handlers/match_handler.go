// Matchmaking HTTP handlers.
//
// This file exposes REST endpoints for the matchmaking lifecycle:
//   - POST     /enqueue      (publish presence + join the waiting pool)
//   - GET|POST /match/next   (attempt to pair with a stranger)
//   - POST     /prev         (ask to reconnect with the previous partner)
//   - POST     /stop         (leave the pool and drop any pair mapping)
//   - GET      /match/stats  (waiting pool depth)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. All matchmaking state lives in
// the ephemeral store; every handler is safe to retry.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ditonachat/go-match-backend/internal/domain"
	"github.com/ditonachat/go-match-backend/internal/http/middleware"
	"github.com/ditonachat/go-match-backend/internal/services"
	"github.com/ditonachat/go-match-backend/internal/store"
)

//
// Service contracts (context-aware)
//

// PresenceService defines presence publication operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PresenceService interface {
	// Publish records the participant's attributes and filters and joins the
	// waiting pool.
	Publish(ctx context.Context, id string, attrs domain.Attributes, filters domain.Filters, vip bool) error
}

// MatchService defines pairing operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MatchService interface {
	// Matchmake attempts to pair the participant with a stranger.
	Matchmake(ctx context.Context, self string) (domain.Match, error)
	// Leave removes the participant from the pool and drops its pair mapping.
	Leave(ctx context.Context, id string) error
}

// HintService defines reconnect-hint operations consumed by HTTP handlers.
type HintService interface {
	// Wish records the participant's desire to re-pair with its previous
	// partner and returns that partner's id (or "" when unknown).
	Wish(ctx context.Context, self string) (string, error)
}

// PoolService exposes waiting-pool introspection.
type PoolService interface {
	// Depth returns the current size of the global waiting queue.
	Depth(ctx context.Context) (int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for matchmaking and signaling.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	presenceSvc PresenceService
	matchSvc    MatchService
	hintSvc     HintService
	poolSvc     PoolService
	signalSvc   SignalService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(presenceSvc PresenceService, matchSvc MatchService, hintSvc HintService, poolSvc PoolService, signalSvc SignalService) *Handlers {
	return &Handlers{
		presenceSvc: presenceSvc,
		matchSvc:    matchSvc,
		hintSvc:     hintSvc,
		poolSvc:     poolSvc,
		signalSvc:   signalSvc,
	}
}

// anonID extracts the caller's anonymous identifier from the Gin context (set
// by the Identity middleware). If absent, it falls back to the X-Anon-ID
// header directly (tests use it). It never touches c.Request if it's nil.
func anonID(c *gin.Context) string {
	if id := middleware.AnonIDFrom(c); id != "" {
		return id
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader(middleware.HeaderAnonID))
	}
	return ""
}

// requireAnonID resolves the caller identity or fails the request with 400.
// The second return value reports whether the handler may proceed.
func requireAnonID(c *gin.Context) (string, bool) {
	id := anonID(c)
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, middleware.HeaderAnonID+" header required")
		return "", false
	}
	return id, true
}

// failFromErr translates service-layer errors into the standard envelope.
// Outcomes that are part of the protocol (no match yet, nothing posted yet)
// are handled by the callers and never reach this function.
func failFromErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNoPresence):
		fail(c, http.StatusBadRequest, ErrCodeNoPresence, "no live presence; enqueue first")
	case errors.Is(err, services.ErrRateLimited):
		c.Header("Retry-After", "1")
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "matchmaking rate limit exceeded")
	case errors.Is(err, services.ErrNotAuthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a member of this pair")
	case errors.Is(err, services.ErrSDPConflict):
		fail(c, http.StatusConflict, ErrCodeSDPConflict, "a different description is already stored for this pair")
	case errors.Is(err, store.ErrUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "state store unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// DTOs
//

// EnqueueRequest is the JSON payload for publishing presence.
type EnqueueRequest struct {
	// Gender is the participant's own gender (free-form token, lowercased).
	Gender string `json:"gender" example:"female"`
	// Country is the participant's ISO 3166-1 alpha-2 country code.
	Country string `json:"country" example:"DE"`
	// Genders lists acceptable partner genders; empty means no preference.
	Genders []string `json:"genders"`
	// Countries lists acceptable partner countries; empty means no preference.
	Countries []string `json:"countries"`
}

// MatchResponse describes a freshly created or already-existing pairing.
type MatchResponse struct {
	PairID string `json:"pairId"`
	Role   string `json:"role" example:"caller"`
	PeerID string `json:"peerId"`
}

// PrevResponse reports the reconnect target recorded by POST /prev.
type PrevResponse struct {
	PeerID string `json:"peerId"`
}

// StatsResponse carries waiting-pool statistics.
type StatsResponse struct {
	QueueDepth int64 `json:"queueDepth"`
}

//
// Handlers
//

// Enqueue publishes the caller's attributes and filters and joins the
// waiting pool. Safe to repeat; each call refreshes the presence TTL and
// the pool position.
//
// Responses: 204 on success, 400 on bad input, 503 when the store is down.
func (h *Handlers) Enqueue(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	attrs := domain.Attributes{
		Gender:  req.Gender,
		Country: req.Country,
	}
	filters := domain.Filters{
		Genders:   req.Genders,
		Countries: req.Countries,
	}

	if err := h.presenceSvc.Publish(c.Request.Context(), id, attrs, filters, middleware.IsVIP(c)); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// MatchNext attempts to pair the caller with a stranger. Returns the pair
// on success; 204 signals "keep polling".
//
// Responses: 200 with MatchResponse, 204 when no partner is available yet,
// 400 when the caller has no live presence, 429 on attempt-rate overflow,
// 503 when the store is down.
func (h *Handlers) MatchNext(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}

	m, err := h.matchSvc.Matchmake(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNoMatch) {
			noContent(c)
			return
		}
		failFromErr(c, err)
		return
	}

	ok(c, http.StatusOK, MatchResponse{
		PairID: m.PairID,
		Role:   string(m.Role),
		PeerID: m.PeerID,
	})
}

// Prev records the caller's wish to reconnect with its previous partner.
// Best-effort: if the previous partner is unknown or expired, the wish is
// simply not recorded and the next matchmake proceeds normally.
//
// Responses: 200 with the remembered peer, 204 when there is none.
func (h *Handlers) Prev(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}

	peer, err := h.hintSvc.Wish(c.Request.Context(), id)
	if err != nil {
		failFromErr(c, err)
		return
	}
	if peer == "" {
		noContent(c)
		return
	}
	ok(c, http.StatusOK, PrevResponse{PeerID: peer})
}

// Stop removes the caller from the pool and drops its pair mapping so the
// partner notices the departure faster than TTL expiry. Idempotent.
//
// Responses: 204 always on success.
func (h *Handlers) Stop(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}

	if err := h.matchSvc.Leave(c.Request.Context(), id); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// MatchStats reports the current global waiting-pool depth.
//
// Responses: 200 with StatsResponse.
func (h *Handlers) MatchStats(c *gin.Context) {
	depth, err := h.poolSvc.Depth(c.Request.Context())
	if err != nil {
		failFromErr(c, err)
		return
	}
	ok(c, http.StatusOK, StatsResponse{QueueDepth: depth})
}
