// Package store persists the relay's private message history.
//
// Messages live in threads keyed by the unordered pair of participants.
// Page 1 is the newest page; pages are returned newest first.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pelusa-v/chatsync/internal/models"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

// History is the relay's message log.
type History interface {
	// Append assigns the next id and persists m.
	Append(m models.Message) (models.Message, error)
	// Page returns up to limit messages between a and b, newest first,
	// skipping (page-1)*limit newer ones.
	Page(a, b models.UserID, page, limit int) ([]models.Message, error)
	Close() error
}

// ThreadID is the order-independent key of the conversation between a and b.
func ThreadID(a, b models.UserID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s", a, b)
}

func pageBounds(page, limit int) (skip, n int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	return (page - 1) * limit, limit
}

// Memory keeps history in process memory.
type Memory struct {
	mu      sync.RWMutex
	seq     int64
	threads map[string][]models.Message
	closed  bool
}

// NewMemory returns an empty in-memory history.
func NewMemory() *Memory {
	return &Memory{threads: make(map[string][]models.Message)}
}

func (s *Memory) Append(m models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Message{}, ErrClosed
	}
	s.seq++
	m.ID = s.seq
	key := ThreadID(m.SenderID, m.ReceiverID)
	s.threads[key] = append(s.threads[key], m)
	return m, nil
}

func (s *Memory) Page(a, b models.UserID, page, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	all := s.threads[ThreadID(a, b)]
	skip, n := pageBounds(page, limit)

	out := make([]models.Message, 0, n)
	for i := len(all) - 1 - skip; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
