// Package session persists conversation state between turns.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// ErrNotFound is returned by LoadState for an unknown or expired session.
var ErrNotFound = errors.New("session not found")

// Store loads and saves conversation state keyed by session ID.
type Store interface {
	LoadState(ctx context.Context, sessionID string) (*types.ConversationState, error)
	SaveState(ctx context.Context, sessionID string, state *types.ConversationState) error
}

type memoryEntry struct {
	state   *types.ConversationState
	expires time.Time
}

// MemoryStore keeps states in process. Loaded and saved states are copies so
// callers never share a state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore returns a store whose entries expire after ttl of
// inactivity. ttl <= 0 keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) LoadState(_ context.Context, sessionID string) (*types.ConversationState, error) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return nil, ErrNotFound
	}
	return e.state.Clone(), nil
}

func (s *MemoryStore) SaveState(_ context.Context, sessionID string, state *types.ConversationState) error {
	if state == nil {
		return errors.New("nil state")
	}
	e := memoryEntry{state: state.Clone()}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[sessionID] = e
	s.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}
