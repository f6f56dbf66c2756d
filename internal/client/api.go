// Package client is the Go SDK for the rendezvous backend. API speaks the
// HTTP surface; Session layers the polling state machine on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors mirroring the server's response taxonomy. Callers branch
// on these with errors.Is.
var (
	// ErrForbidden means the pair mapping is gone or the role is wrong for
	// the attempted operation. The attempt is dead; re-establish presence.
	ErrForbidden = errors.New("client: not authorized for pair")

	// ErrConflict means a distinct SDP was already committed for this slot.
	ErrConflict = errors.New("client: sdp conflict")

	// ErrRateLimited means the server asked us to slow down.
	ErrRateLimited = errors.New("client: rate limited")

	// ErrUnavailable covers transport failures and 5xx responses. Treated
	// as "try again next poll" by the session loops.
	ErrUnavailable = errors.New("client: backend unavailable")
)

// Match is a successful pairing result.
type Match struct {
	PairID string `json:"pairId"`
	Role   string `json:"role"`
	PeerID string `json:"peerId"`
}

// ICEBatch is one drain of the peer's candidate mailbox.
type ICEBatch struct {
	Candidates []string `json:"candidates"`
	Next       int64    `json:"next"`
}

// EnqueueParams carries own attributes plus peer filters for presence.
type EnqueueParams struct {
	Gender    string   `json:"gender,omitempty"`
	Country   string   `json:"country,omitempty"`
	Genders   []string `json:"genders,omitempty"`
	Countries []string `json:"countries,omitempty"`
}

// API is a thin, stateless HTTP client for the matchmaking and signaling
// endpoints. All methods honor the passed context for cancellation and carry
// the anonymous identity on every request.
type API struct {
	BaseURL string // e.g. "https://host/api/v1"
	AnonID  string
	VIP     bool

	// HTTP defaults to a client with a short per-call timeout.
	HTTP *http.Client
}

// NewAPI returns an API bound to baseURL and anonID with a 10s call timeout.
func NewAPI(baseURL, anonID string) *API {
	return &API{
		BaseURL: baseURL,
		AnonID:  anonID,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Enqueue publishes presence and joins the waiting pool.
func (a *API) Enqueue(ctx context.Context, p EnqueueParams) error {
	_, _, err := a.call(ctx, http.MethodPost, "/enqueue", p, "")
	return err
}

// MatchNext runs one matchmaking attempt. ok is false when no partner is
// available yet.
func (a *API) MatchNext(ctx context.Context) (Match, bool, error) {
	body, status, err := a.call(ctx, http.MethodGet, "/match/next", nil, "")
	if err != nil || status == http.StatusNoContent {
		return Match{}, false, err
	}
	var m Match
	if err := json.Unmarshal(body, &m); err != nil {
		return Match{}, false, fmt.Errorf("client: decode match: %w", err)
	}
	return m, true, nil
}

// Prev returns the reconnection hint left by a recently departed peer, if any.
func (a *API) Prev(ctx context.Context) (string, bool, error) {
	body, status, err := a.call(ctx, http.MethodPost, "/prev", nil, "")
	if err != nil || status == http.StatusNoContent {
		return "", false, err
	}
	var p struct {
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", false, fmt.Errorf("client: decode prev: %w", err)
	}
	return p.PeerID, true, nil
}

// Stop leaves the pool and abandons any current pair. Idempotent.
func (a *API) Stop(ctx context.Context) error {
	_, _, err := a.call(ctx, http.MethodPost, "/stop", nil, "")
	return err
}

// PostOffer publishes the caller's offer. tag makes retransmissions
// idempotent across reconnects; pass "" to dedupe by SDP digest only.
func (a *API) PostOffer(ctx context.Context, pairID, sdp, tag string) error {
	_, _, err := a.call(ctx, http.MethodPost, "/offer", sdpBody{PairID: pairID, SDP: sdp}, tag)
	return err
}

// GetOffer polls for the caller's offer. ok is false while it has not
// arrived yet.
func (a *API) GetOffer(ctx context.Context, pairID string) (string, bool, error) {
	return a.getSDP(ctx, "/offer", pairID)
}

// PostAnswer publishes the callee's answer.
func (a *API) PostAnswer(ctx context.Context, pairID, sdp, tag string) error {
	_, _, err := a.call(ctx, http.MethodPost, "/answer", sdpBody{PairID: pairID, SDP: sdp}, tag)
	return err
}

// GetAnswer polls for the callee's answer.
func (a *API) GetAnswer(ctx context.Context, pairID string) (string, bool, error) {
	return a.getSDP(ctx, "/answer", pairID)
}

// PostICE appends one local candidate to our mailbox for the peer.
func (a *API) PostICE(ctx context.Context, pairID, candidate string) error {
	_, _, err := a.call(ctx, http.MethodPost, "/ice", iceBody{PairID: pairID, Candidate: candidate}, "")
	return err
}

// DrainICE reads the peer's candidates from the given cursor. Feed the
// returned Next back in on the following poll.
func (a *API) DrainICE(ctx context.Context, pairID string, from int64) (ICEBatch, error) {
	path := fmt.Sprintf("/ice?pairId=%s&from=%d", pairID, from)
	body, status, err := a.call(ctx, http.MethodGet, path, nil, "")
	if err != nil || status == http.StatusNoContent {
		return ICEBatch{Next: from}, err
	}
	var b ICEBatch
	if err := json.Unmarshal(body, &b); err != nil {
		return ICEBatch{Next: from}, fmt.Errorf("client: decode ice: %w", err)
	}
	return b, nil
}

type sdpBody struct {
	PairID string `json:"pairId"`
	SDP    string `json:"sdp"`
}

type iceBody struct {
	PairID    string `json:"pairId"`
	Candidate string `json:"candidate"`
}

func (a *API) getSDP(ctx context.Context, path, pairID string) (string, bool, error) {
	body, status, err := a.call(ctx, http.MethodGet, path+"?pairId="+pairID, nil, "")
	if err != nil || status == http.StatusNoContent {
		return "", false, err
	}
	var r struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return "", false, fmt.Errorf("client: decode sdp: %w", err)
	}
	return r.SDP, true, nil
}

// call performs one request and maps the response to the error taxonomy.
// 2xx returns the raw body; 204 is signalled by status, not error.
func (a *API) call(ctx context.Context, method, path string, payload any, idemKey string) ([]byte, int, error) {
	var rd io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("client: encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("client: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Anon-ID", a.AnonID)
	if a.VIP {
		req.Header.Set("X-Anon-VIP", "1")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	hc := a.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		// Context cancellation is the caller's doing, not an outage.
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, resp.StatusCode, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, ErrForbidden
	case resp.StatusCode == http.StatusConflict:
		return nil, resp.StatusCode, ErrConflict
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, resp.StatusCode, fmt.Errorf("client: %s %s: %s", method, path, errMessage(resp.StatusCode, body))
	}
}

func errMessage(status int, body []byte) string {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Code != "" {
		return fmt.Sprintf("status %d (%s)", status, e.Code)
	}
	return fmt.Sprintf("status %d", status)
}
