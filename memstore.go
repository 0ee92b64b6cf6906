package posclient

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory KeyValueStore for tests and single-process
// terminals. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[string]map[int]func(string)
	nextID int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		subs:   make(map[string]map[int]func(string)),
	}
}

// Get returns the stored value and whether the key was present.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.values[key]
	return val, ok, nil
}

// Set stores the value and notifies subscribers of the key.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	var handlers []func(string)
	for _, fn := range m.subs[key] {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	// Notify outside the lock so handlers may call back into the store.
	for _, fn := range handlers {
		fn(value)
	}
	return nil
}

// Remove deletes the given keys.
func (m *MemoryStore) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

// Subscribe registers a handler for writes to key.
func (m *MemoryStore) Subscribe(key string, fn func(string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]func(string))
	}
	id := m.nextID
	m.nextID++
	m.subs[key][id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[key], id)
	}
}

// MemoryBroadcaster is an in-process Broadcaster. Handlers run synchronously
// on the publishing goroutine.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	subs   map[int]func(StoreChange)
	nextID int
}

// NewMemoryBroadcaster creates an in-process broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[int]func(StoreChange))}
}

// Publish delivers the change to every subscriber.
func (b *MemoryBroadcaster) Publish(_ context.Context, change StoreChange) error {
	b.mu.Lock()
	var handlers []func(StoreChange)
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(change)
	}
	return nil
}

// Subscribe registers a change handler and returns an unsubscribe function.
func (b *MemoryBroadcaster) Subscribe(fn func(StoreChange)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

var (
	_ KeyValueStore = (*MemoryStore)(nil)
	_ Broadcaster   = (*MemoryBroadcaster)(nil)
)
