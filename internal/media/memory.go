package media

import (
	"container/list"
	"sync"
	"time"
)

// MemoryStore is an in-memory store with LRU eviction. Returned slices are
// shared with the store and must not be modified.
type MemoryStore struct {
	capacity int64 // 0 means unbounded
	size     int64

	items    map[Handle]*list.Element
	eviction *list.List

	mu     sync.Mutex
	closed bool
	stats  Stats
}

type memoryEntry struct {
	handle Handle
	value  []byte
	size   int64
	stored time.Time
	hits   int64
}

// NewMemoryStore creates a memory store holding at most capacity bytes.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[Handle]*list.Element),
		eviction: list.New(),
		stats:    Stats{Level: LevelMemory, Capacity: capacity},
	}
}

// Put implements Store.
func (m *MemoryStore) Put(pcm []byte) (Handle, error) {
	h := NewHandle()
	if err := m.PutAs(h, pcm); err != nil {
		return "", err
	}
	return h, nil
}

// PutAs implements Store.
func (m *MemoryStore) PutAs(h Handle, pcm []byte) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}

	value := make([]byte, len(pcm))
	copy(value, pcm)
	valueSize := int64(len(value))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.capacity > 0 && valueSize > m.capacity {
		return ErrItemTooLarge
	}

	if elem, ok := m.items[h]; ok {
		m.removeElement(elem)
	}

	for m.capacity > 0 && m.size+valueSize > m.capacity && m.eviction.Len() > 0 {
		m.evictOldest()
	}

	elem := m.eviction.PushFront(&memoryEntry{
		handle: h,
		value:  value,
		size:   valueSize,
		stored: time.Now(),
	})
	m.items[h] = elem
	m.size += valueSize
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(h Handle) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	elem, ok := m.items[h]
	if !ok {
		m.stats.Misses++
		return nil, ErrNotFound
	}

	// Move to front (most recently used)
	m.eviction.MoveToFront(elem)
	entry := elem.Value.(*memoryEntry)
	entry.hits++
	m.stats.Hits++
	return entry.value, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[h]; ok {
		m.removeElement(elem)
	}
	return nil
}

// Contains reports whether h is held without touching the LRU order.
func (m *MemoryStore) Contains(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.items[h]
	return ok
}

// Close drops everything.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[Handle]*list.Element)
	m.eviction.Init()
	m.size = 0
	m.closed = true
	return nil
}

// Stats returns store metrics.
func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.Size = m.size
	stats.Items = int64(len(m.items))
	return stats
}

// evictOldest removes the least recently used item (must be called with lock held).
func (m *MemoryStore) evictOldest() {
	if elem := m.eviction.Back(); elem != nil {
		m.removeElement(elem)
		m.stats.Evictions++
	}
}

// removeElement must be called with lock held.
func (m *MemoryStore) removeElement(elem *list.Element) {
	m.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(m.items, entry.handle)
	m.size -= entry.size
}
