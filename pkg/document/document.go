// Package document provides the text documents sessions are bound to.
// A document's text is the query JSON; writes always replace it whole.
package document

import (
	"context"
	"sort"
	"sync"
)

// Document is the text a session reads and writes.
type Document interface {
	// URI identifies the document; sessions are unique per (URI, view).
	URI() string
	Text() (string, error)
	// Replace swaps the full content. It either succeeds completely or
	// leaves the previous content in place.
	Replace(ctx context.Context, text string) error
	// Subscribe registers fn for change notifications, including changes
	// made through Replace. The returned func unsubscribes.
	Subscribe(fn func()) (unsubscribe func())
}

// subscribers is the notification list shared by document kinds.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (s *subscribers) add(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = map[int]func(){}
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

// notify calls subscribers in registration order. It must not be called
// while holding a document lock: subscribers read the document back.
func (s *subscribers) notify() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// Memory is an untitled in-memory document.
type Memory struct {
	uri  string
	subs subscribers

	mu   sync.Mutex
	text string
}

// NewMemory returns a Memory document holding text.
func NewMemory(uri, text string) *Memory {
	return &Memory{uri: uri, text: text}
}

func (m *Memory) URI() string { return m.uri }

func (m *Memory) Text() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) Replace(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	changed := m.text != text
	m.text = text
	m.mu.Unlock()
	if changed {
		m.subs.notify()
	}
	return nil
}

func (m *Memory) Subscribe(fn func()) func() {
	return m.subs.add(fn)
}

// Subscribers reports how many subscriptions are active.
func (m *Memory) Subscribers() int {
	return m.subs.count()
}
