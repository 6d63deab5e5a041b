package notify

import (
	"context"
	"sync"
)

// Memory is an in-memory Queue double that records every published message,
// for test assertions.
type Memory struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemory constructs an empty Memory queue.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns every message published so far.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}
