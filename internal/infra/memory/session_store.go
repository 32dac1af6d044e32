package memory

import (
	"context"
	"fmt"
	"sync"

	"trivia-live-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Callers only ever see copies; a save against a stale version is refused.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.JoinCode]; ok {
		return domain.ErrJoinCodeTaken
	}
	session.Version = 1
	s.sessions[session.JoinCode] = session.Clone()
	return nil
}

func (s *SessionStore) Get(_ context.Context, joinCode string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[joinCode]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) Save(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.JoinCode]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if stored.Version != session.Version {
		return fmt.Errorf("save session %s at version %d (stored %d): %w",
			session.JoinCode, session.Version, stored.Version, domain.ErrVersionConflict)
	}
	session.Version++
	s.sessions[session.JoinCode] = session.Clone()
	return nil
}

// Len reports how many sessions are stored.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
