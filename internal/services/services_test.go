package services

import (
	"sync"
	"time"

	"github.com/ditonachat/go-match-backend/internal/store"
)

// testClock drives both the memory store and the services deterministically.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Unix(1_700_000_000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testCore wires the full service stack over one in-memory store.
type testCore struct {
	store    *store.Memory
	clock    *testClock
	presence *PresenceService
	pool     *PoolService
	hints    *HintService
	match    *MatchService
	signal   *SignalService
}

func newTestCore() *testCore {
	mem := store.NewMemory()
	clk := newTestClock()
	mem.SetClock(clk.Now)

	pool := NewPoolService(mem)
	presence := NewPresenceService(mem, pool)
	presence.now = clk.Now
	hints := NewHintService(mem)
	match := NewMatchService(mem, presence, pool, hints)
	match.now = clk.Now
	signal := NewSignalService(mem, match)

	return &testCore{
		store:    mem,
		clock:    clk,
		presence: presence,
		pool:     pool,
		hints:    hints,
		match:    match,
		signal:   signal,
	}
}
