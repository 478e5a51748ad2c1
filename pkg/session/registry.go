package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrSessionExists is returned when a (document, view) pair already has a session.
var ErrSessionExists = errors.New("session already open")

type key struct {
	uri  string
	view string
}

// Registry owns the open sessions, at most one per (document, view) pair.
// A session leaves the registry when it is closed.
type Registry struct {
	mu       sync.Mutex
	sessions map[key]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[key]*Session{}}
}

// Open creates, registers and attaches a session.
func (r *Registry) Open(ctx context.Context, opts Options) (*Session, error) {
	s, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	k := key{uri: s.URI(), view: s.ViewID()}

	r.mu.Lock()
	if _, ok := r.sessions[k]; ok {
		r.mu.Unlock()
		s.cancel()
		return nil, errors.Wrapf(ErrSessionExists, "%s in view %s", k.uri, k.view)
	}
	r.sessions[k] = s
	r.mu.Unlock()

	s.mu.Lock()
	s.onClose = func() { r.remove(k, s) }
	s.mu.Unlock()

	if err := s.Attach(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Get returns the session bound to uri in view, if any.
func (r *Registry) Get(uri, view string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key{uri: uri, view: view}]
	return s, ok
}

// Len is the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
}

func (r *Registry) remove(k key, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[k] == s {
		delete(r.sessions, k)
	}
}
