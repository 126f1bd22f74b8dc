package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MapBackend keeps records in process memory
type MapBackend struct {
	data map[string][]byte
	lock sync.RWMutex
}

// NewMapBackend creates an empty in-memory backend
func NewMapBackend() *MapBackend {
	return &MapBackend{data: make(map[string][]byte)}
}

func (m *MapBackend) Get(_ context.Context, slot string) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	data, ok := m.data[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MapBackend) Put(_ context.Context, slot string, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[slot] = append([]byte(nil), data...)
	return nil
}

func (m *MapBackend) Delete(_ context.Context, slot string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.data[slot]; !ok {
		return ErrNotFound
	}
	delete(m.data, slot)
	return nil
}

func (m *MapBackend) Keys(_ context.Context) ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MapBackend) Close() error {
	return nil
}

// Open picks a backend by driver name
func Open(driver, dsn, dir string) (Backend, error) {
	switch driver {
	case "sqlite3", "sqlite":
		backend, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "file":
		backend, err := NewFileBackend(dir)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "memory", "":
		return NewMapBackend(), nil
	default:
		return nil, fmt.Errorf("unknown memory driver %q", driver)
	}
}
