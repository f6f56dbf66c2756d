package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store with real TTL semantics. It backs package
// tests so services can be exercised without a Redis instance; it is not
// meant for production, where workers share no process memory.
type Memory struct {
	mu sync.Mutex

	strings map[string]memVal
	hashes  map[string]memHash
	zsets   map[string]map[string]float64
	sets    map[string]memSet
	lists   map[string]memList
	counts  map[string]memCount

	// now is a clock seam so TTL expiry can be tested without sleeping.
	now func() time.Time
}

type memVal struct {
	val string
	exp time.Time
}

type memHash struct {
	fields map[string]string
	exp    time.Time
}

type memSet struct {
	members map[string]struct{}
	exp     time.Time
}

type memList struct {
	vals []string
	exp  time.Time
}

type memCount struct {
	n   int64
	exp time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memVal),
		hashes:  make(map[string]memHash),
		zsets:   make(map[string]map[string]float64),
		sets:    make(map[string]memSet),
		lists:   make(map[string]memList),
		counts:  make(map[string]memCount),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Tests advance it to trigger expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) expAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func expired(exp time.Time, now time.Time) bool {
	return !exp.IsZero() && !exp.After(now)
}

func (m *Memory) liveVal(key string) (memVal, bool) {
	v, ok := m.strings[key]
	if !ok || expired(v.exp, m.now()) {
		delete(m.strings, key)
		return memVal{}, false
	}
	return v, true
}

func (m *Memory) TryAcquire(_ context.Context, key, val string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveVal(key); ok {
		return false, nil
	}
	m.strings[key] = memVal{val: val, exp: m.expAt(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.liveVal(key); ok && v.val == val {
		delete(m.strings, key)
	}
	return nil
}

func (m *Memory) Set(_ context.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = memVal{val: val, exp: m.expAt(ttl)}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return m.TryAcquire(ctx, key, val, ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.liveVal(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.val, nil
}

func (m *Memory) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.liveVal(key)
	if !ok {
		return "", ErrNotFound
	}
	delete(m.strings, key)
	return v.val, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.hashes, k)
		delete(m.zsets, k)
		delete(m.sets, k)
		delete(m.lists, k)
		delete(m.counts, k)
	}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if v, ok := m.strings[key]; ok && !expired(v.exp, now) {
		v.exp = m.expAt(ttl)
		m.strings[key] = v
		return true, nil
	}
	if h, ok := m.hashes[key]; ok && !expired(h.exp, now) {
		h.exp = m.expAt(ttl)
		m.hashes[key] = h
		return true, nil
	}
	if s, ok := m.sets[key]; ok && !expired(s.exp, now) {
		s.exp = m.expAt(ttl)
		m.sets[key] = s
		return true, nil
	}
	if l, ok := m.lists[key]; ok && !expired(l.exp, now) {
		l.exp = m.expAt(ttl)
		m.lists[key] = l
		return true, nil
	}
	return false, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || expired(h.exp, m.now()) {
		h = memHash{fields: make(map[string]string)}
	}
	for k, v := range fields {
		h.fields[k] = v
	}
	h.exp = m.expAt(ttl)
	m.hashes[key] = h
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || expired(h.exp, m.now()) {
		delete(m.hashes, key)
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *Memory) ZHead(_ context.Context, key string, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zsets[key]
	members := make([]string, 0, len(z))
	for mem := range z {
		members = append(members, mem)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z[members[i]], z[members[j]]
		if si == sj {
			return members[i] < members[j]
		}
		return si < sj
	})
	if int64(len(members)) > limit {
		members = members[:limit]
	}
	return members, nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zsets[key]; ok {
		for _, mem := range members {
			delete(z, mem)
		}
	}
	return nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *Memory) SAdd(_ context.Context, key, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok || expired(s.exp, m.now()) {
		s = memSet{members: make(map[string]struct{})}
	}
	s.members[member] = struct{}{}
	s.exp = m.expAt(ttl)
	m.sets[key] = s
	return nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok || expired(s.exp, m.now()) {
		delete(m.sets, key)
		return false, nil
	}
	_, ok = s.members[member]
	return ok, nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[key]
	if !ok || expired(c.exp, m.now()) {
		c = memCount{exp: m.expAt(ttl)}
	}
	c.n++
	m.counts[key] = c
	return c.n, nil
}

func (m *Memory) RPush(_ context.Context, key, val string, ttl time.Duration, maxLen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || expired(l.exp, m.now()) {
		l = memList{}
	}
	l.vals = append(l.vals, val)
	if maxLen > 0 && int64(len(l.vals)) > maxLen {
		l.vals = l.vals[int64(len(l.vals))-maxLen:]
	}
	l.exp = m.expAt(ttl)
	m.lists[key] = l
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, start int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || expired(l.exp, m.now()) {
		delete(m.lists, key)
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if start >= int64(len(l.vals)) {
		return nil, nil
	}
	out := make([]string, len(l.vals[start:]))
	copy(out, l.vals[start:])
	return out, nil
}
