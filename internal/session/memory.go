package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a Store for tests and single-process deployments.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[int64]Session
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[int64]Session)}
}

func (m *MemoryStore) Get(_ context.Context, chatID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[chatID]
	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl {
		delete(m.items, chatID)
		return nil, nil
	}
	s.Data = copyData(s.Data)
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.now()
	stored := *s
	stored.Data = copyData(s.Data)
	m.items[s.ChatID] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, chatID)
	return nil
}

func copyData(d Data) Data {
	if d.Latitude != nil {
		lat := *d.Latitude
		d.Latitude = &lat
	}
	if d.Longitude != nil {
		lng := *d.Longitude
		d.Longitude = &lng
	}
	return d
}
