package session

import (
	"sort"
	"sync"
	"time"
)

// Store holds the live sessions. Closed sessions are removed, never kept;
// anything that should outlive a session goes through the archive.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// Put registers a session under its id.
func (st *Store) Put(s *State) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID()] = s
}

// Get returns the session for id.
func (st *Store) Get(id string) (*State, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove drops the session for id.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Snapshots returns a view of every live session, oldest first.
func (st *Store) Snapshots() []Snapshot {
	st.mu.RLock()
	states := make([]*State, 0, len(st.sessions))
	for _, s := range st.sessions {
		states = append(states, s)
	}
	st.mu.RUnlock()

	snaps := make([]Snapshot, len(states))
	for i, s := range states {
		snaps[i] = s.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// SweepIdle returns the sessions idle for at least ttl. The caller owns
// closing them; the store does not mutate anything here.
func (st *Store) SweepIdle(ttl time.Duration, now time.Time) []*State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var idle []*State
	for _, s := range st.sessions {
		if s.Idle(ttl, now) {
			idle = append(idle, s)
		}
	}
	return idle
}
