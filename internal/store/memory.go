package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process bounded conversation log. It is the default
// backend when no Redis address is configured.
type Memory struct {
	mu      sync.Mutex
	id      string
	max     int
	entries []Entry
}

// NewMemory creates an in-memory store keeping at most max entries.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 64
	}
	return &Memory{id: uuid.NewString(), max: max}
}

func (m *Memory) ConversationID() string { return m.id }

func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if len(m.entries) > m.max {
		m.entries = m.entries[len(m.entries)-m.max:]
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	if n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]Entry, n)
	copy(out, m.entries[len(m.entries)-n:])
	return out, nil
}
