// Package memory is a map-backed store used in tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/coursekit/streamgate/store"
)

type Storage struct {
	mu           sync.RWMutex
	sessions     map[string]store.Session
	violations   []store.Violation
	videos       map[string]store.Video
	entitlements map[string]bool
}

func New() *Storage {
	return &Storage{
		sessions:     make(map[string]store.Session),
		videos:       make(map[string]store.Video),
		entitlements: make(map[string]bool),
	}
}

func (s *Storage) PutSession(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Storage) Session(_ context.Context, id string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Storage) AppendViolation(_ context.Context, v store.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, v)
	return nil
}

// Violations returns a copy of the recorded violations, for tests.
func (s *Storage) Violations() []store.Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

func (s *Storage) AddVideo(v store.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[v.ID] = v
}

func (s *Storage) Video(_ context.Context, id string) (store.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return store.Video{}, store.ErrVideoNotFound
	}
	return v, nil
}

func (s *Storage) SetEntitlement(uid string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlements[uid] = active
}

func (s *Storage) HasActiveEntitlement(_ context.Context, uid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entitlements[uid], nil
}
