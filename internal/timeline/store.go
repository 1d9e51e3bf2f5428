// Package timeline holds the ordered, id-unique message window for one
// conversation.
package timeline

import (
	"sync"

	"github.com/matheus3301/groupchat/internal/message"
)

// Store is the single source of truth the UI renders from. It never filters
// or reorders; the reconciler computes every next state and the owner
// commits it here.
type Store struct {
	mu    sync.RWMutex
	items []message.Message
	index map[message.ID]int
}

func New() *Store {
	return &Store{index: make(map[message.ID]int)}
}

// Current returns a copy of the window, oldest first.
func (s *Store) Current() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Message, len(s.items))
	copy(out, s.items)
	return out
}

// OldestID returns the id of the oldest server-confirmed entry. Local
// optimistic entries are never valid cursors.
func (s *Store) OldestID() (message.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.items {
		if !m.ID.IsLocal() {
			return m.ID, true
		}
	}
	return "", false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Contains(id message.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Get returns the entry with the given id.
func (s *Store) Get(id message.ID) (message.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return message.Message{}, false
	}
	return s.items[i], true
}

// Commit replaces the window with next. The slice is copied.
func (s *Store) Commit(next []message.Message) {
	items := make([]message.Message, len(next))
	copy(items, next)
	index := make(map[message.ID]int, len(items))
	for i, m := range items {
		index[m.ID] = i
	}
	s.mu.Lock()
	s.items = items
	s.index = index
	s.mu.Unlock()
}

// Reset clears the window.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.index = make(map[message.ID]int)
	s.mu.Unlock()
}
