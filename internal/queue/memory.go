package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a non-durable Store used in tests and for dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	items  []Item
	closed bool
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Enqueue(_ context.Context, mut Mutation) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Item{}, ErrClosed
	}
	m.nextID++
	item := Item{
		ID:         m.nextID,
		Action:     mut.Action,
		EntityType: mut.EntityType,
		EntityID:   mut.EntityID,
		Data:       append([]byte(nil), mut.Data...),
		Timestamp:  m.now().UTC(),
	}
	m.items = append(m.items, item)
	return item, nil
}

func (m *MemoryStore) DequeueOldest(_ context.Context) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.items) == 0 {
		return Item{}, false
	}
	return m.items[0], true
}

func (m *MemoryStore) GetAll(_ context.Context) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

func (m *MemoryStore) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) UpdateRetry(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].RetryCount++
			m.items[i].LastError = errMsg
			break
		}
	}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items = nil
	return nil
}

func (m *MemoryStore) Count(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	return len(m.items)
}

func (m *MemoryStore) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
