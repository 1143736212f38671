package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryManager is an in-process Manager, backed by a plain map. Used by
// the in-process rpc transport and by tests that don't need a real Redis
// instance. Grounded on the teacher's mutex-guarded bookkeeping map
// pattern (lode.LodeClient's offsets/chunksSeen maps).
type MemoryManager struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	nextID  int64
	destroy func(id string) // test hook, optional
}

// NewMemoryManager creates an empty in-process broadcast manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{blobs: make(map[string][]byte)}
}

// New publishes data under a freshly-allocated id.
func (m *MemoryManager) New(_ context.Context, data []byte, _ bool) (Handle, error) {
	m.mu.Lock()
	id := fmt.Sprintf("bc-%d", atomic.AddInt64(&m.nextID, 1))
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[id] = cp
	m.mu.Unlock()

	return &memoryHandle{mgr: m, id: id}, nil
}

// Get implements Manager's fetch-by-id for readers that only have the
// wire-carried id and never held the Handle.
func (m *MemoryManager) Get(_ context.Context, id string) ([]byte, error) {
	b, ok := m.fetch(id)
	if !ok {
		return nil, fmt.Errorf("broadcast: artifact %s not found", id)
	}
	return b, nil
}

func (m *MemoryManager) fetch(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[id]
	return b, ok
}

func (m *MemoryManager) destroyID(id string) {
	m.mu.Lock()
	delete(m.blobs, id)
	m.mu.Unlock()
}

// Len reports how many artifacts are currently live; used by tests to
// assert destruction actually happened.
func (m *MemoryManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

type memoryHandle struct {
	mgr *MemoryManager
	id  string
}

func (h *memoryHandle) ID() string { return h.id }

func (h *memoryHandle) Fetch(_ context.Context) ([]byte, error) {
	b, ok := h.mgr.fetch(h.id)
	if !ok {
		return nil, fmt.Errorf("broadcast: artifact %s not found", h.id)
	}
	return b, nil
}

func (h *memoryHandle) Destroy(_ context.Context) error {
	h.mgr.destroyID(h.id)
	return nil
}
