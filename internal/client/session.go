package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the externally observable session phase.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateCooldown  State = "cooldown" // searching variant after "next"
	StateMatched   State = "matched"
	StateConnected State = "connected"
	StateStopped   State = "stopped"
)

// Event is broadcast on every externally observable state change so the UI
// layer can react without polling the session.
type Event struct {
	State State
	Match Match // populated from StateMatched onward
	Err   error // populated when a flow escalated to a stop
}

// Signaler is the slice of the HTTP surface the session needs. *API
// implements it; tests substitute fakes.
type Signaler interface {
	Enqueue(ctx context.Context, p EnqueueParams) error
	MatchNext(ctx context.Context) (Match, bool, error)
	Stop(ctx context.Context) error
	PostOffer(ctx context.Context, pairID, sdp, tag string) error
	GetOffer(ctx context.Context, pairID string) (string, bool, error)
	PostAnswer(ctx context.Context, pairID, sdp, tag string) error
	GetAnswer(ctx context.Context, pairID string) (string, bool, error)
	PostICE(ctx context.Context, pairID, candidate string) error
	DrainICE(ctx context.Context, pairID string, from int64) (ICEBatch, error)
}

// PeerConnection abstracts the WebRTC engine. Media handling lives outside
// this package; the session only moves SDP and candidates across it.
type PeerConnection interface {
	// CreateOffer produces the local offer SDP (caller side).
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer applies the remote offer and returns the answer (callee side).
	AcceptOffer(ctx context.Context, sdp string) (string, error)
	// AcceptAnswer applies the remote answer (caller side).
	AcceptAnswer(ctx context.Context, sdp string) error
	// AddCandidate feeds one remote ICE candidate.
	AddCandidate(candidate string) error
	// Candidates yields local candidates to relay to the peer. The engine
	// closes the channel when gathering completes.
	Candidates() <-chan string
	// Connected fires once when the first remote media track arrives.
	Connected() <-chan struct{}
	// Failed fires on transient ICE disconnection.
	Failed() <-chan struct{}
	// RestartICE attempts an in-place ICE restart.
	RestartICE(ctx context.Context) error
	// Close tears the connection down. keepCapture preserves the local
	// camera and microphone for an immediate re-match.
	Close(keepCapture bool)
}

// Dialer creates one PeerConnection per pair.
type Dialer interface {
	Dial(ctx context.Context, role string) (PeerConnection, error)
}

// Session drives one participant through idle, searching, matched and
// connected. All network work runs in background goroutines owned by the
// current attempt; a monotonic sequence number invalidates everything a
// superseded attempt might still deliver.
type Session struct {
	api  Signaler
	dial Dialer
	log  zerolog.Logger

	PollInterval    time.Duration // match/offer/answer/ice poll cadence
	CallTimeout     time.Duration // per-HTTP-call deadline
	Cooldown        time.Duration // delay before re-searching after "next"
	RestartDebounce time.Duration // wait before attempting an ICE restart
	RestartWindow   time.Duration // how long a restart may take before "next"

	events chan Event

	mu     sync.Mutex
	state  State
	seq    uint64
	cancel context.CancelFunc
	params EnqueueParams
	pc     PeerConnection
}

// NewSession returns an idle session. The zero durations get conservative
// defaults suitable for interactive use.
func NewSession(api Signaler, dial Dialer, log zerolog.Logger) *Session {
	return &Session{
		api:             api,
		dial:            dial,
		log:             log,
		PollInterval:    time.Second,
		CallTimeout:     5 * time.Second,
		Cooldown:        2 * time.Second,
		RestartDebounce: 3 * time.Second,
		RestartWindow:   10 * time.Second,
		events:          make(chan Event, 16),
		state:           StateIdle,
	}
}

// Events is the session's broadcast channel. Slow consumers lose events
// rather than blocking the state machine.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins searching with the given presence parameters. A Start while
// another attempt is live supersedes it.
func (s *Session) Start(p EnqueueParams) {
	s.mu.Lock()
	seq, ctx := s.supersedeLocked()
	s.params = p
	s.closePCLocked(false)
	s.setStateLocked(StateSearching, Match{}, nil)
	s.mu.Unlock()

	go s.run(ctx, seq, 0)
}

// Next drops the current peer but keeps local capture alive, then re-enters
// the pool after a short cooldown.
func (s *Session) Next() {
	s.mu.Lock()
	seq, ctx := s.supersedeLocked()
	s.closePCLocked(true)
	s.setStateLocked(StateCooldown, Match{}, nil)
	cd := s.Cooldown
	s.mu.Unlock()

	go s.run(ctx, seq, cd)
}

// Stop tears everything down and returns the session to a terminal stopped
// state. Safe to call any number of times.
func (s *Session) Stop() {
	s.mu.Lock()
	_, _ = s.supersedeLocked()
	s.closePCLocked(false)
	already := s.state == StateStopped
	s.setStateLocked(StateStopped, Match{}, nil)
	s.mu.Unlock()

	if already {
		return
	}
	// Best-effort: let the backend drop presence and leave the
	// reconnection hint for the peer.
	ctx, cancel := context.WithTimeout(context.Background(), s.CallTimeout)
	defer cancel()
	if err := s.api.Stop(ctx); err != nil {
		s.log.Debug().Err(err).Msg("stop notify failed")
	}
}

// supersedeLocked cancels the live attempt and opens the next one.
func (s *Session) supersedeLocked() (uint64, context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return s.seq, ctx
}

// current reports whether seq is still the live attempt. Results delivered
// under a stale seq are discarded, never acted upon.
func (s *Session) current(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq == seq
}

func (s *Session) closePCLocked(keepCapture bool) {
	if s.pc != nil {
		s.pc.Close(keepCapture)
		s.pc = nil
	}
}

func (s *Session) setStateLocked(st State, m Match, err error) {
	s.state = st
	ev := Event{State: st, Match: m, Err: err}
	select {
	case s.events <- ev:
	default:
		s.log.Debug().Str("state", string(st)).Msg("event dropped, consumer slow")
	}
}

func (s *Session) transition(seq uint64, st State, m Match, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return false
	}
	s.setStateLocked(st, m, err)
	return true
}

// escalate handles category-fatal errors: anything unexpected during a flow
// is equivalent to a full stop.
func (s *Session) escalate(seq uint64, err error) {
	if !s.current(seq) {
		return
	}
	s.log.Warn().Err(err).Msg("session flow failed, stopping")
	s.mu.Lock()
	if s.seq == seq {
		if s.cancel != nil {
			s.cancel()
		}
		s.closePCLocked(false)
		s.setStateLocked(StateStopped, Match{}, err)
	}
	s.mu.Unlock()
}

// run is one attempt: optional cooldown, enqueue, poll for a match, then the
// signaling flow. It owns ctx and exits when superseded.
func (s *Session) run(ctx context.Context, seq uint64, delay time.Duration) {
	if delay > 0 {
		if !sleep(ctx, delay) {
			return
		}
		if !s.transition(seq, StateSearching, Match{}, nil) {
			return
		}
	}

	s.mu.Lock()
	p := s.params
	s.mu.Unlock()

	// Presence publication tolerates outages: degrade to the next poll.
	if err := s.callWithTimeout(ctx, func(c context.Context) error {
		return s.api.Enqueue(c, p)
	}); err != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrRateLimited) {
		s.escalate(seq, fmt.Errorf("enqueue: %w", err))
		return
	}

	m, ok := s.pollForMatch(ctx, seq, p)
	if !ok {
		return
	}
	if !s.transition(seq, StateMatched, m, nil) {
		return
	}
	s.runPair(ctx, seq, m)
}

// pollForMatch drives matchmaking attempts until one lands or the attempt is
// superseded. Presence is refreshed periodically so TTLs never lapse while
// the participant is genuinely waiting.
func (s *Session) pollForMatch(ctx context.Context, seq uint64, p EnqueueParams) (Match, bool) {
	refresh := time.Now()
	interval := s.PollInterval
	for {
		var (
			m  Match
			ok bool
		)
		err := s.callWithTimeout(ctx, func(c context.Context) error {
			var e error
			m, ok, e = s.api.MatchNext(c)
			return e
		})
		switch {
		case ctx.Err() != nil:
			return Match{}, false
		case err == nil && ok:
			return m, s.current(seq)
		case errors.Is(err, ErrRateLimited):
			interval *= 2
		case err != nil && !errors.Is(err, ErrUnavailable):
			s.escalate(seq, fmt.Errorf("matchmake: %w", err))
			return Match{}, false
		default:
			interval = s.PollInterval
		}

		// Keep presence alive roughly once a minute while waiting.
		if time.Since(refresh) > time.Minute {
			refresh = time.Now()
			_ = s.callWithTimeout(ctx, func(c context.Context) error {
				return s.api.Enqueue(c, p)
			})
		}
		if !sleep(ctx, interval) {
			return Match{}, false
		}
	}
}

// runPair performs the role-directed SDP exchange and ICE relay, then waits
// for connection establishment.
func (s *Session) runPair(ctx context.Context, seq uint64, m Match) {
	pc, err := s.dial.Dial(ctx, m.Role)
	if err != nil {
		s.escalate(seq, fmt.Errorf("dial peer connection: %w", err))
		return
	}
	s.mu.Lock()
	if s.seq != seq {
		s.mu.Unlock()
		pc.Close(false)
		return
	}
	s.pc = pc
	s.mu.Unlock()

	go s.relayLocalCandidates(ctx, seq, m.PairID, pc)
	go s.drainRemoteCandidates(ctx, seq, m.PairID, pc)

	if m.Role == "caller" {
		err = s.callerFlow(ctx, seq, m.PairID, pc)
	} else {
		err = s.calleeFlow(ctx, seq, m.PairID, pc)
	}
	if err != nil {
		if ctx.Err() == nil {
			s.escalate(seq, err)
		}
		return
	}
	s.awaitConnection(ctx, seq, m, pc)
}

func (s *Session) callerFlow(ctx context.Context, seq uint64, pairID string, pc PeerConnection) error {
	sdp, err := pc.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	// Stable tag keeps retransmissions of this attempt's offer idempotent.
	tag := fmt.Sprintf("%s:%d", pairID, seq)
	err = s.callWithTimeout(ctx, func(c context.Context) error {
		return s.api.PostOffer(c, pairID, sdp, tag)
	})
	switch {
	case errors.Is(err, ErrConflict):
		// An earlier offer of ours is already committed; it stands.
		s.log.Debug().Str("pair_id", pairID).Msg("offer already committed")
	case err != nil && !errors.Is(err, ErrUnavailable):
		return fmt.Errorf("post offer: %w", err)
	}

	for {
		var (
			answer string
			ok     bool
		)
		err := s.callWithTimeout(ctx, func(c context.Context) error {
			var e error
			answer, ok, e = s.api.GetAnswer(c, pairID)
			return e
		})
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil && ok:
			if !s.current(seq) {
				return context.Canceled
			}
			if err := pc.AcceptAnswer(ctx, answer); err != nil {
				return fmt.Errorf("accept answer: %w", err)
			}
			return nil
		case err != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrRateLimited):
			return fmt.Errorf("poll answer: %w", err)
		}
		if !sleep(ctx, s.PollInterval) {
			return ctx.Err()
		}
	}
}

func (s *Session) calleeFlow(ctx context.Context, seq uint64, pairID string, pc PeerConnection) error {
	var offer string
	for {
		var ok bool
		err := s.callWithTimeout(ctx, func(c context.Context) error {
			var e error
			offer, ok, e = s.api.GetOffer(c, pairID)
			return e
		})
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil && ok:
		case err != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrRateLimited):
			return fmt.Errorf("poll offer: %w", err)
		}
		if ok {
			break
		}
		if !sleep(ctx, s.PollInterval) {
			return ctx.Err()
		}
	}
	if !s.current(seq) {
		return context.Canceled
	}
	answer, err := pc.AcceptOffer(ctx, offer)
	if err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}
	tag := fmt.Sprintf("%s:%d", pairID, seq)
	err = s.callWithTimeout(ctx, func(c context.Context) error {
		return s.api.PostAnswer(c, pairID, answer, tag)
	})
	if err != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("post answer: %w", err)
	}
	return nil
}

// relayLocalCandidates forwards the engine's candidates to our mailbox until
// gathering completes or the attempt dies.
func (s *Session) relayLocalCandidates(ctx context.Context, seq uint64, pairID string, pc PeerConnection) {
	for {
		select {
		case <-ctx.Done():
			return
		case cand, open := <-pc.Candidates():
			if !open {
				return
			}
			if !s.current(seq) {
				return
			}
			err := s.callWithTimeout(ctx, func(c context.Context) error {
				return s.api.PostICE(c, pairID, cand)
			})
			if err != nil && !errors.Is(err, ErrUnavailable) {
				s.log.Debug().Err(err).Msg("candidate relay rejected")
				return
			}
		}
	}
}

// drainRemoteCandidates polls the peer's mailbox with a client-held cursor.
func (s *Session) drainRemoteCandidates(ctx context.Context, seq uint64, pairID string, pc PeerConnection) {
	var cursor int64
	for {
		if !sleep(ctx, s.PollInterval) {
			return
		}
		var batch ICEBatch
		err := s.callWithTimeout(ctx, func(c context.Context) error {
			var e error
			batch, e = s.api.DrainICE(c, pairID, cursor)
			return e
		})
		if err != nil {
			if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
				continue
			}
			return
		}
		if !s.current(seq) {
			return
		}
		for _, cand := range batch.Candidates {
			if err := pc.AddCandidate(cand); err != nil {
				s.log.Debug().Err(err).Msg("drop bad remote candidate")
			}
		}
		cursor = batch.Next
	}
}

// awaitConnection waits for media to land and keeps watching the link for
// the lifetime of the pair: transient ICE failure, before or after the
// connected transition, gets one debounced restart before falling back to
// "next".
func (s *Session) awaitConnection(ctx context.Context, seq uint64, m Match, pc PeerConnection) {
	restarted := false
	connected := pc.Connected()
	for {
		select {
		case <-ctx.Done():
			return
		case <-connected:
			s.transition(seq, StateConnected, m, nil)
			// Connected fires once; nil the case out and stay in the
			// loop so an established call still reacts to ICE failure.
			connected = nil
		case <-pc.Failed():
			if restarted {
				s.log.Info().Str("pair_id", m.PairID).Msg("ice restart failed, moving on")
				if s.current(seq) {
					s.Next()
				}
				return
			}
			if !sleep(ctx, s.RestartDebounce) {
				return
			}
			restarted = true
			rctx, cancel := context.WithTimeout(ctx, s.RestartWindow)
			err := pc.RestartICE(rctx)
			cancel()
			if err != nil {
				if s.current(seq) {
					s.Next()
				}
				return
			}
		}
	}
}

func (s *Session) callWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, s.CallTimeout)
	defer cancel()
	return fn(c)
}

// sleep waits d unless ctx ends first. Reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
