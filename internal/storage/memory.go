package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore backed by a map. Its state is
// local to the process and lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]CounterEntry
	closed  bool
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]CounterEntry),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (CounterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return CounterEntry{}, ErrClosed
	}

	entry, ok := m.entries[key]
	if !ok {
		return CounterEntry{}, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryStore) SetOrReset(ctx context.Context, key string, count int, windowResetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.entries[key] = CounterEntry{Count: count, WindowResetAt: windowResetAt}
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	entry, ok := m.entries[key]
	if !ok {
		return 0, ErrNotFound
	}
	entry.Count++
	m.entries[key] = entry
	return entry.Count, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	removed := 0
	for key, entry := range m.entries {
		if entry.WindowResetAt.Before(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = make(map[string]CounterEntry)
	return nil
}
