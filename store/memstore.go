package store

import (
	"context"
	"sync"
)

// Simple in-memory implementation of [RecordStore], for use in development,
// demos, and tests.
//
// All records are dropped when the process restarts, so any real deployment
// should use [DBStore] instead.
type MemStore struct {
	records map[string][]byte

	lk sync.Mutex
}

var _ RecordStore = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string][]byte),
	}
}

func (m *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	val, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MemStore) Put(ctx context.Context, key string, val []byte) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	cp := make([]byte, len(val))
	copy(cp, val)
	m.records[key] = cp
	return nil
}

func (m *MemStore) Delete(ctx context.Context, key string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	delete(m.records, key)
	return nil
}

func (m *MemStore) Take(ctx context.Context, key string) ([]byte, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	val, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.records, key)
	return val, nil
}
