// WebRTC signaling HTTP handlers.
//
// This file exposes the rendezvous relay for paired participants:
//   - POST /offer    (caller publishes its session description)
//   - GET  /offer    (callee polls for the caller's description)
//   - POST /answer   (callee publishes its session description)
//   - GET  /answer   (caller polls for the callee's description)
//   - POST /ice      (either side appends an ICE candidate)
//   - GET  /ice      (either side drains the peer's candidates from a cursor)
//
// The relay is a dead drop: payloads are opaque strings, the server never
// parses SDP or candidates. Authorization is purely positional — the caller
// must hold the pair map naming the requested pair.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ditonachat/go-match-backend/internal/http/middleware"
	"github.com/ditonachat/go-match-backend/internal/services"
	"github.com/ditonachat/go-match-backend/internal/utils"
)

// SignalService defines the relay operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SignalService interface {
	// PostOffer stores the caller's session description for the pair.
	PostOffer(ctx context.Context, id, pairID, sdp, tag string) error
	// Offer returns the caller's stored description to the callee.
	Offer(ctx context.Context, id, pairID string) (string, error)
	// PostAnswer stores the callee's session description for the pair.
	PostAnswer(ctx context.Context, id, pairID, sdp, tag string) error
	// Answer returns the callee's stored description to the caller.
	Answer(ctx context.Context, id, pairID string) (string, error)
	// AddICE appends an ICE candidate to the caller's own mailbox.
	AddICE(ctx context.Context, id, pairID, candidate string) error
	// ICE returns the peer's candidates starting at the given cursor.
	ICE(ctx context.Context, id, pairID string, from int64) ([]string, error)
}

//
// DTOs
//

// SDPRequest is the JSON payload for posting an offer or answer.
type SDPRequest struct {
	PairID string `json:"pairId" binding:"required"`
	// SDP is the opaque session description; the server never parses it.
	SDP string `json:"sdp" binding:"required"`
}

// SDPResponse wraps a relayed session description.
type SDPResponse struct {
	SDP string `json:"sdp"`
}

// ICERequest is the JSON payload for appending an ICE candidate.
type ICERequest struct {
	PairID string `json:"pairId" binding:"required"`
	// Candidate is the opaque ICE candidate line.
	Candidate string `json:"candidate" binding:"required"`
}

// ICEResponse carries a batch of relayed candidates plus the cursor to use
// on the next poll.
type ICEResponse struct {
	Candidates []string `json:"candidates"`
	Next       int64    `json:"next"`
}

//
// Helpers
//

// pairIDQuery extracts and validates the pairId query parameter.
func pairIDQuery(c *gin.Context) (string, bool) {
	pairID := strings.TrimSpace(c.Query("pairId"))
	if pairID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pairId query parameter required")
		return "", false
	}
	return pairID, true
}

// sdpTag resolves the client-supplied retransmission tag, if any. When the
// Idempotency-Key header is absent the relay hashes the payload instead.
func sdpTag(c *gin.Context) string {
	tag, _ := middleware.GetIdempotencyKey(c)
	return tag
}

//
// Handlers
//

// PostOffer stores the caller's session description. Retransmissions of the
// same description are absorbed; a different description for a live pair is
// rejected.
//
// Responses: 204, 400, 403 when not the pair's caller, 409 on conflicting
// retransmission, 503 when the store is down.
func (h *Handlers) PostOffer(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}
	var req SDPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pairId and sdp required")
		return
	}

	if err := h.signalSvc.PostOffer(c.Request.Context(), id, req.PairID, req.SDP, sdpTag(c)); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// GetOffer returns the caller's stored description to the callee.
//
// Responses: 200 with SDPResponse, 204 when not posted yet, 400, 403.
func (h *Handlers) GetOffer(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}
	pairID, okPair := pairIDQuery(c)
	if !okPair {
		return
	}

	sdp, err := h.signalSvc.Offer(c.Request.Context(), id, pairID)
	if err != nil {
		if errors.Is(err, services.ErrNotYet) {
			noContent(c)
			return
		}
		failFromErr(c, err)
		return
	}
	ok(c, http.StatusOK, SDPResponse{SDP: sdp})
}

// PostAnswer stores the callee's session description. Same retransmission
// semantics as PostOffer.
//
// Responses: 204, 400, 403 when not the pair's callee, 409, 503.
func (h *Handlers) PostAnswer(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}
	var req SDPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pairId and sdp required")
		return
	}

	if err := h.signalSvc.PostAnswer(c.Request.Context(), id, req.PairID, req.SDP, sdpTag(c)); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// GetAnswer returns the callee's stored description to the caller.
//
// Responses: 200 with SDPResponse, 204 when not posted yet, 400, 403.
func (h *Handlers) GetAnswer(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}
	pairID, okPair := pairIDQuery(c)
	if !okPair {
		return
	}

	sdp, err := h.signalSvc.Answer(c.Request.Context(), id, pairID)
	if err != nil {
		if errors.Is(err, services.ErrNotYet) {
			noContent(c)
			return
		}
		failFromErr(c, err)
		return
	}
	ok(c, http.StatusOK, SDPResponse{SDP: sdp})
}

// PostICE appends one ICE candidate to the caller's mailbox for the pair.
//
// Responses: 204, 400, 403, 503.
func (h *Handlers) PostICE(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}
	var req ICERequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pairId and candidate required")
		return
	}

	if err := h.signalSvc.AddICE(c.Request.Context(), id, req.PairID, req.Candidate); err != nil {
		failFromErr(c, err)
		return
	}
	noContent(c)
}

// GetICE drains the peer's candidate mailbox starting at the `from` cursor.
// Clients pass the returned `next` value on the following poll so candidates
// are delivered exactly once per client without server-side read state.
//
// Responses: 200 with ICEResponse (possibly empty), 400, 403.
func (h *Handlers) GetICE(c *gin.Context) {
	id, okID := requireAnonID(c)
	if !okID {
		return
	}
	pairID, okPair := pairIDQuery(c)
	if !okPair {
		return
	}
	from := int64(utils.AtoiDefault(c.Query("from"), 0))
	if from < 0 {
		from = 0
	}

	cands, err := h.signalSvc.ICE(c.Request.Context(), id, pairID, from)
	if err != nil {
		failFromErr(c, err)
		return
	}
	if cands == nil {
		cands = []string{}
	}
	ok(c, http.StatusOK, ICEResponse{
		Candidates: cands,
		Next:       from + int64(len(cands)),
	})
}
