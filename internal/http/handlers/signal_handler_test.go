package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ditonachat/go-match-backend/internal/http/middleware"
	"github.com/ditonachat/go-match-backend/internal/services"
	"github.com/ditonachat/go-match-backend/internal/store"
)

//
// Offer / Answer
//

func TestPostOffer_Success_ForwardsTag(t *testing.T) {
	r, f := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/offer", "anon-1",
		SDPRequest{PairID: "p-1", SDP: "v=0 offer"},
		map[string]string{middleware.HeaderIdempotencyKey: "tag-42"})

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if f.signal.gotID != "anon-1" || f.signal.gotPairID != "p-1" ||
		f.signal.gotSDP != "v=0 offer" || f.signal.gotTag != "tag-42" {
		t.Fatalf("relay args: id=%q pair=%q sdp=%q tag=%q",
			f.signal.gotID, f.signal.gotPairID, f.signal.gotSDP, f.signal.gotTag)
	}
}

func TestPostOffer_NoTagWhenHeaderAbsent(t *testing.T) {
	r, f := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/offer", "anon-1",
		SDPRequest{PairID: "p-1", SDP: "v=0 offer"}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if f.signal.gotTag != "" {
		t.Fatalf("tag should be empty, got %q", f.signal.gotTag)
	}
}

func TestPostOffer_MissingFields(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/offer", "anon-1", SDPRequest{PairID: "p-1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPostOffer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		wantCode string
	}{
		{services.ErrNotAuthorized, http.StatusForbidden, ErrCodeForbidden},
		{services.ErrSDPConflict, http.StatusConflict, ErrCodeSDPConflict},
		{store.ErrUnavailable, http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
	}
	for _, tc := range cases {
		r, f := newTestRouter(t)
		f.signal.postOfferErr = tc.err
		w := doJSON(t, r, http.MethodPost, "/offer", "anon-1",
			SDPRequest{PairID: "p-1", SDP: "x"}, nil)
		if w.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, w.Code, tc.status)
		}
		if e := decodeErr(t, w); e.Code != tc.wantCode {
			t.Fatalf("%v: code = %q, want %q", tc.err, e.Code, tc.wantCode)
		}
	}
}

func TestGetOffer_Success(t *testing.T) {
	r, f := newTestRouter(t)
	f.signal.offerSDP = "v=0 offer"

	w := doJSON(t, r, http.MethodGet, "/offer?pairId=p-1", "anon-2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SDPResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.SDP != "v=0 offer" {
		t.Fatalf("body = %+v err=%v", resp, err)
	}
	if f.signal.gotPairID != "p-1" {
		t.Fatalf("pair id = %q", f.signal.gotPairID)
	}
}

func TestGetOffer_NotYetIs204(t *testing.T) {
	r, f := newTestRouter(t)
	f.signal.offerErr = services.ErrNotYet
	w := doJSON(t, r, http.MethodGet, "/offer?pairId=p-1", "anon-2", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetOffer_MissingPairID(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/offer", "anon-2", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPostAndGetAnswer(t *testing.T) {
	r, f := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/answer", "anon-2",
		SDPRequest{PairID: "p-1", SDP: "v=0 answer"}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("post status = %d", w.Code)
	}
	if f.signal.gotSDP != "v=0 answer" {
		t.Fatalf("relay got %q", f.signal.gotSDP)
	}

	f.signal.answerSDP = "v=0 answer"
	w = doJSON(t, r, http.MethodGet, "/answer?pairId=p-1", "anon-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var resp SDPResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.SDP != "v=0 answer" {
		t.Fatalf("body = %+v err=%v", resp, err)
	}
}

func TestGetAnswer_NotYetIs204(t *testing.T) {
	r, f := newTestRouter(t)
	f.signal.answerErr = services.ErrNotYet
	w := doJSON(t, r, http.MethodGet, "/answer?pairId=p-1", "anon-1", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
}

//
// ICE
//

func TestPostICE_Success(t *testing.T) {
	r, f := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/ice", "anon-1",
		ICERequest{PairID: "p-1", Candidate: "candidate:1 1 udp ..."}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if f.signal.gotCand != "candidate:1 1 udp ..." {
		t.Fatalf("candidate = %q", f.signal.gotCand)
	}
}

func TestPostICE_Forbidden(t *testing.T) {
	r, f := newTestRouter(t)
	f.signal.addICEErr = services.ErrNotAuthorized
	w := doJSON(t, r, http.MethodPost, "/ice", "anon-1",
		ICERequest{PairID: "p-1", Candidate: "c"}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetICE_CursorMath(t *testing.T) {
	r, f := newTestRouter(t)
	f.signal.iceCands = []string{"c1", "c2"}

	w := doJSON(t, r, http.MethodGet, "/ice?pairId=p-1&from=3", "anon-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if f.signal.gotFrom != 3 {
		t.Fatalf("from = %d", f.signal.gotFrom)
	}
	var resp ICEResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Candidates) != 2 || resp.Next != 5 {
		t.Fatalf("body = %+v", resp)
	}
}

func TestGetICE_EmptyMailbox(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/ice?pairId=p-1", "anon-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ICEResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Candidates == nil || len(resp.Candidates) != 0 || resp.Next != 0 {
		t.Fatalf("body = %+v", resp)
	}
}

func TestGetICE_BadCursorFallsBackToZero(t *testing.T) {
	r, f := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/ice?pairId=p-1&from=bogus", "anon-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if f.signal.gotFrom != 0 {
		t.Fatalf("from = %d", f.signal.gotFrom)
	}
}
