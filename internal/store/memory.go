package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process store with the same contract as DB. It is used
// when no data directory is configured.
type Memory struct {
	mu    sync.RWMutex
	kv    map[string][]byte
	saved map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		kv:    make(map[string][]byte),
		saved: make(map[string][]string),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.kv[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.kv, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.kv = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.kv))
	for k := range m.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) SavedNodes(_ context.Context, treeID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.saved[treeID]...), nil
}

func (m *Memory) SetSaved(_ context.Context, treeID, nodeID string, saved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.saved[treeID]
	for i, id := range ids {
		if id == nodeID {
			if !saved {
				m.saved[treeID] = append(ids[:i], ids[i+1:]...)
			}
			return nil
		}
	}
	if saved {
		m.saved[treeID] = append(ids, nodeID)
	}
	return nil
}
