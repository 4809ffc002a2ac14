package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store persists sessions by ID. Implementations must make Update an atomic
// read-modify-write so concurrent requests on one session do not lose writes.
type Store interface {
	// Get returns ErrNotFound when the ID is unknown or past its ttl.
	Get(ctx context.Context, id string) (*Session, error)
	// Put creates or replaces the session, keeping it for at least ttl.
	Put(ctx context.Context, id string, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	// Update loads the session, applies fn and writes the result back.
	// fn's error aborts the write and is returned unchanged.
	Update(ctx context.Context, id string, ttl time.Duration, fn func(*Session) error) error
}

type memoryEntry struct {
	s         *Session
	expiresAt time.Time
}

// minSweepAt is the map size below which Put never sweeps.
const minSweepAt = 1024

// MemoryStore keeps sessions in process. Expired entries are dropped when
// touched, and Put sweeps the whole map each time it doubles past the live
// count of the previous sweep. There is no background goroutine.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	items   map[string]memoryEntry
	sweepAt int
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, items: make(map[string]memoryEntry), sweepAt: minSweepAt}
}

// sweep must be called with mu held.
func (m *MemoryStore) sweep() {
	now := m.clock.Now()
	for id, e := range m.items {
		if now.After(e.expiresAt) {
			delete(m.items, id)
		}
	}
	m.sweepAt = max(minSweepAt, 2*len(m.items))
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(id string) (*Session, bool) {
	e, ok := m.items[id]
	if !ok {
		return nil, false
	}
	if m.clock.Now().After(e.expiresAt) {
		delete(m.items, id)
		return nil, false
	}
	return e.s, true
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	out := s.Clone()
	out.ID = id
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, id string, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = memoryEntry{s: s.Clone(), expiresAt: m.clock.Now().Add(ttl)}
	if len(m.items) >= m.sweepAt {
		m.sweep()
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, ttl time.Duration, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.lookup(id)
	if !ok {
		return ErrNotFound
	}
	next := cur.Clone()
	next.ID = id
	if err := fn(next); err != nil {
		return err
	}
	m.items[id] = memoryEntry{s: next.Clone(), expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.items {
		if _, ok := m.lookup(id); ok {
			n++
		}
	}
	return n
}
