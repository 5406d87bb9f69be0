package session

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrSessionNotFound is returned for operations on an unknown session id.
// Ending a session that does not exist is an error, never a silent no-op.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds a session for a newly accepted connection.
type Factory func(id string, events Events) *Session

// Registry tracks the live sessions of this process.
type Registry struct {
	factory Factory
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry over a session factory.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create builds and starts a session under the given id.
func (r *Registry) Create(id string, events Events) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %q already exists", id)
	}
	s := r.factory(id, events)
	r.sessions[id] = s
	r.mu.Unlock()

	s.Start()
	r.logger.Info("Session created", zap.String("sessionID", id))
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End tears down the session with the given id and removes it.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.End()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown ends every live session. Used on server shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.End()
	}
}
