package invitations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bottlepoint/waterbot/pkg/types"
)

// MemoryStore is a mutex-guarded Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Pending
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Pending)}
}

func (m *MemoryStore) Put(_ context.Context, p Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.Identity] = p
	return nil
}

func (m *MemoryStore) Get(_ context.Context, identity string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[identity]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) Take(_ context.Context, identity string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[identity]
	if !ok {
		return nil, nil
	}
	delete(m.entries, identity)
	return &p, nil
}

func (m *MemoryStore) SetPrompt(_ context.Context, identity string, createdAt time.Time, ref types.MessageRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[identity]
	if !ok || !p.CreatedAt.Equal(createdAt) {
		return false, nil
	}
	p.Prompt = ref
	m.entries[identity] = p
	return true, nil
}

func (m *MemoryStore) TakeExpired(_ context.Context, now time.Time, limit int) ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []Pending
	for _, p := range m.entries {
		if p.Expired(now) {
			expired = append(expired, p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, p := range expired {
		delete(m.entries, p.Identity)
	}
	return expired, nil
}
