package clarify

import (
	"context"
	"sync"
	"time"

	"github.com/nutrimind/coach-core/internal/model"
)

// SessionStore keeps the single-flight clarification state per session. The
// interface is narrow so the backing can be the in-process map below for a
// single instance, or the persistence layer's session table for multi-instance
// deployments, without touching engine logic.
type SessionStore interface {
	Put(ctx context.Context, st *model.ClarificationState) error
	Get(ctx context.Context, sessionID string) (*model.ClarificationState, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemorySessionStore is a mutex-guarded map. Request handlers and the
// background sweeper access it concurrently.
type InMemorySessionStore struct {
	mu     sync.Mutex
	states map[string]model.ClarificationState
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{states: make(map[string]model.ClarificationState)}
}

func (s *InMemorySessionStore) Put(_ context.Context, st *model.ClarificationState) error {
	if st.SessionID == "" {
		return model.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.SessionID] = *st
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, sessionID string) (*model.ClarificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := st
	return &out, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}

func (s *InMemorySessionStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, st := range s.states {
		if st.Timestamp.Before(cutoff) {
			delete(s.states, id)
			n++
		}
	}
	return n, nil
}
