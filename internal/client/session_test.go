package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSignaler scripts the backend. Zero value: nobody ever matches.
type fakeSignaler struct {
	mu       sync.Mutex
	enqueues int
	stops    int
	offers   map[string]string // tag -> sdp
	answers  []string
	ice      []string

	matchFn     func(attempt int) (Match, bool, error)
	getOfferFn  func(attempt int) (string, bool, error)
	getAnswerFn func(attempt int) (string, bool, error)
	drainFn     func(from int64) (ICEBatch, error)

	matchCalls, offerPolls, answerPolls int
}

func (f *fakeSignaler) Enqueue(context.Context, EnqueueParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueues++
	return nil
}

func (f *fakeSignaler) MatchNext(context.Context) (Match, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls++
	if f.matchFn == nil {
		return Match{}, false, nil
	}
	return f.matchFn(f.matchCalls)
}

func (f *fakeSignaler) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSignaler) PostOffer(_ context.Context, pairID, sdp, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offers == nil {
		f.offers = map[string]string{}
	}
	f.offers[tag] = sdp
	return nil
}

func (f *fakeSignaler) GetOffer(context.Context, string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerPolls++
	if f.getOfferFn == nil {
		return "", false, nil
	}
	return f.getOfferFn(f.offerPolls)
}

func (f *fakeSignaler) PostAnswer(_ context.Context, _, sdp, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, sdp)
	return nil
}

func (f *fakeSignaler) GetAnswer(context.Context, string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerPolls++
	if f.getAnswerFn == nil {
		return "", false, nil
	}
	return f.getAnswerFn(f.answerPolls)
}

func (f *fakeSignaler) PostICE(_ context.Context, _, cand string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ice = append(f.ice, cand)
	return nil
}

func (f *fakeSignaler) DrainICE(_ context.Context, _ string, from int64) (ICEBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drainFn == nil {
		return ICEBatch{Next: from}, nil
	}
	return f.drainFn(from)
}

// fakePC is a scriptable peer connection.
type fakePC struct {
	mu             sync.Mutex
	offerSDP       string
	answerSDP      string
	acceptedOffers []string
	acceptedAns    []string
	added          []string
	closes         []bool // keepCapture per Close
	restarts       int

	cands     chan string
	connected chan struct{}
	failed    chan struct{}
}

func newFakePC() *fakePC {
	return &fakePC{
		offerSDP:  "v=0 local-offer",
		answerSDP: "v=0 local-answer",
		cands:     make(chan string, 8),
		connected: make(chan struct{}),
		failed:    make(chan struct{}, 1),
	}
}

func (p *fakePC) CreateOffer(context.Context) (string, error) { return p.offerSDP, nil }

func (p *fakePC) AcceptOffer(_ context.Context, sdp string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acceptedOffers = append(p.acceptedOffers, sdp)
	return p.answerSDP, nil
}

func (p *fakePC) AcceptAnswer(_ context.Context, sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acceptedAns = append(p.acceptedAns, sdp)
	return nil
}

func (p *fakePC) AddCandidate(c string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, c)
	return nil
}

func (p *fakePC) Candidates() <-chan string  { return p.cands }
func (p *fakePC) Connected() <-chan struct{} { return p.connected }
func (p *fakePC) Failed() <-chan struct{}    { return p.failed }

func (p *fakePC) RestartICE(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	return nil
}

func (p *fakePC) Close(keepCapture bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes = append(p.closes, keepCapture)
}

type fakeDialer struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (d *fakeDialer) Dial(context.Context, string) (PeerConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc := newFakePC()
	d.pcs = append(d.pcs, pc)
	return pc, nil
}

func (d *fakeDialer) last() *fakePC {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pcs) == 0 {
		return nil
	}
	return d.pcs[len(d.pcs)-1]
}

func newTestSession(api Signaler, d Dialer) *Session {
	s := NewSession(api, d, zerolog.Nop())
	s.PollInterval = 5 * time.Millisecond
	s.CallTimeout = 200 * time.Millisecond
	s.Cooldown = 5 * time.Millisecond
	s.RestartDebounce = 5 * time.Millisecond
	s.RestartWindow = 100 * time.Millisecond
	return s
}

// waitState drains events until the wanted state appears.
func waitState(t *testing.T, s *Session, want State) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q (now %q)", want, s.State())
		}
	}
}

func TestSessionCallerHappyPath(t *testing.T) {
	api := &fakeSignaler{
		matchFn: func(attempt int) (Match, bool, error) {
			if attempt < 3 {
				return Match{}, false, nil
			}
			return Match{PairID: "p1", Role: "caller", PeerID: "anon-b"}, true, nil
		},
		getAnswerFn: func(attempt int) (string, bool, error) {
			if attempt < 2 {
				return "", false, nil
			}
			return "v=0 remote-answer", true, nil
		},
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)
	defer s.Stop()

	s.Start(EnqueueParams{Gender: "male"})
	ev := waitState(t, s, StateMatched)
	if ev.Match.PairID != "p1" || ev.Match.Role != "caller" {
		t.Fatalf("matched event = %+v", ev.Match)
	}

	// The answer lands and the engine reports media.
	pc := awaitPC(t, d)
	awaitLen(t, func() int {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return len(pc.acceptedAns)
	}, 1)
	close(pc.connected)
	waitState(t, s, StateConnected)

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.offers) != 1 {
		t.Fatalf("offers posted = %d", len(api.offers))
	}
	for _, sdp := range api.offers {
		if sdp != "v=0 local-offer" {
			t.Fatalf("posted offer = %q", sdp)
		}
	}
}

func TestSessionCalleeFlow(t *testing.T) {
	api := &fakeSignaler{
		matchFn: func(int) (Match, bool, error) {
			return Match{PairID: "p2", Role: "callee", PeerID: "anon-a"}, true, nil
		},
		getOfferFn: func(attempt int) (string, bool, error) {
			if attempt < 3 {
				return "", false, nil
			}
			return "v=0 remote-offer", true, nil
		},
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)
	defer s.Stop()

	s.Start(EnqueueParams{Gender: "female"})
	waitState(t, s, StateMatched)

	// Offer arrives, answer goes back.
	awaitLen(t, func() int {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.answers)
	}, 1)
	api.mu.Lock()
	if api.answers[0] != "v=0 local-answer" {
		t.Fatalf("answer = %q", api.answers[0])
	}
	api.mu.Unlock()

	pc := awaitPC(t, d)
	pc.mu.Lock()
	if len(pc.acceptedOffers) != 1 || pc.acceptedOffers[0] != "v=0 remote-offer" {
		t.Fatalf("accepted offers = %v", pc.acceptedOffers)
	}
	pc.mu.Unlock()

	close(pc.connected)
	waitState(t, s, StateConnected)
}

func TestSessionICERelay(t *testing.T) {
	remote := []string{"r1", "r2", "r3"}
	api := &fakeSignaler{
		matchFn: func(int) (Match, bool, error) {
			return Match{PairID: "p3", Role: "caller", PeerID: "anon-b"}, true, nil
		},
		getAnswerFn: func(int) (string, bool, error) { return "v=0 a", true, nil },
		drainFn: func(from int64) (ICEBatch, error) {
			if from >= int64(len(remote)) {
				return ICEBatch{Next: from}, nil
			}
			return ICEBatch{Candidates: remote[from:], Next: int64(len(remote))}, nil
		},
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)
	defer s.Stop()

	s.Start(EnqueueParams{})
	waitState(t, s, StateMatched)
	pc := awaitPC(t, d)

	// Local candidates flow out.
	pc.cands <- "l1"
	pc.cands <- "l2"
	awaitLen(t, func() int {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.ice)
	}, 2)

	// Remote candidates flow in exactly once despite repeated polls.
	awaitLen(t, func() int {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return len(pc.added)
	}, 3)
	time.Sleep(30 * time.Millisecond)
	pc.mu.Lock()
	if len(pc.added) != 3 {
		t.Fatalf("added = %v", pc.added)
	}
	pc.mu.Unlock()
}

func TestSessionNextKeepsCapture(t *testing.T) {
	api := &fakeSignaler{
		matchFn: func(attempt int) (Match, bool, error) {
			if attempt == 1 {
				return Match{PairID: "p4", Role: "caller", PeerID: "anon-b"}, true, nil
			}
			return Match{}, false, nil
		},
		getAnswerFn: func(int) (string, bool, error) { return "v=0 a", true, nil },
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)
	defer s.Stop()

	s.Start(EnqueueParams{})
	waitState(t, s, StateMatched)
	pc := awaitPC(t, d)
	close(pc.connected)
	waitState(t, s, StateConnected)

	s.Next()
	waitState(t, s, StateSearching)

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.closes) != 1 || !pc.closes[0] {
		t.Fatalf("closes = %v, want [true]", pc.closes)
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	api := &fakeSignaler{}
	s := newTestSession(api, &fakeDialer{})

	s.Start(EnqueueParams{})
	s.Stop()
	s.Stop()
	s.Stop()

	if got := s.State(); got != StateStopped {
		t.Fatalf("state = %q", got)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.stops != 1 {
		t.Fatalf("backend stop notified %d times, want 1", api.stops)
	}
}

func TestSessionForbiddenEscalatesToStop(t *testing.T) {
	api := &fakeSignaler{
		matchFn: func(int) (Match, bool, error) {
			return Match{PairID: "p5", Role: "caller", PeerID: "anon-b"}, true, nil
		},
		getAnswerFn: func(int) (string, bool, error) { return "", false, ErrForbidden },
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)

	s.Start(EnqueueParams{})
	ev := waitState(t, s, StateStopped)
	if ev.Err == nil {
		t.Fatalf("expected error on stop event")
	}
	pc := d.last()
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.closes) != 1 || pc.closes[0] {
		t.Fatalf("closes = %v, want full close", pc.closes)
	}
}

func TestSessionICEFailureRestartsThenMovesOn(t *testing.T) {
	api := &fakeSignaler{
		matchFn: func(attempt int) (Match, bool, error) {
			if attempt == 1 {
				return Match{PairID: "p6", Role: "caller", PeerID: "anon-b"}, true, nil
			}
			return Match{}, false, nil
		},
		getAnswerFn: func(int) (string, bool, error) { return "v=0 a", true, nil },
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)
	defer s.Stop()

	s.Start(EnqueueParams{})
	waitState(t, s, StateMatched)
	pc := awaitPC(t, d)

	// First failure triggers a debounced restart, second gives up.
	pc.failed <- struct{}{}
	awaitLen(t, func() int {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return pc.restarts
	}, 1)
	pc.failed <- struct{}{}
	waitState(t, s, StateSearching)

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.closes) != 1 || !pc.closes[0] {
		t.Fatalf("closes = %v, want capture preserved", pc.closes)
	}
}

func TestSessionPostConnectFailureRestartsThenMovesOn(t *testing.T) {
	api := &fakeSignaler{
		matchFn: func(attempt int) (Match, bool, error) {
			if attempt == 1 {
				return Match{PairID: "p7", Role: "caller", PeerID: "anon-b"}, true, nil
			}
			return Match{}, false, nil
		},
		getAnswerFn: func(int) (string, bool, error) { return "v=0 a", true, nil },
	}
	d := &fakeDialer{}
	s := newTestSession(api, d)
	defer s.Stop()

	s.Start(EnqueueParams{})
	waitState(t, s, StateMatched)
	pc := awaitPC(t, d)
	close(pc.connected)
	waitState(t, s, StateConnected)

	// The link drops mid-call: one debounced restart keeps the pair alive.
	pc.failed <- struct{}{}
	awaitLen(t, func() int {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return pc.restarts
	}, 1)
	if got := s.State(); got != StateConnected {
		t.Fatalf("state after restart = %q", got)
	}

	// A second drop gives up on this peer but keeps capture for re-match.
	pc.failed <- struct{}{}
	waitState(t, s, StateSearching)

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.closes) != 1 || !pc.closes[0] {
		t.Fatalf("closes = %v, want capture preserved", pc.closes)
	}
}

func awaitPC(t *testing.T, d *fakeDialer) *fakePC {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pc := d.last(); pc != nil {
			return pc
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("peer connection never dialed")
	return nil
}

func awaitLen(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if get() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never reached %d (last %d)", want, get())
}
