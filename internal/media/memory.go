package media

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrObjectNotFound is returned by MemoryStore for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Object is one entry of a MemoryStore.
type Object struct {
	ContentType string
	Data        []byte
}

// MemoryStore is a Store held in process memory, used by tests and local
// runs without object storage.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]Object
	// FailPut makes Put fail for keys with this prefix.
	FailPut string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != "" && strings.HasPrefix(key, m.FailPut) {
		return errors.New("put failed")
	}
	m.objects[key] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) BaseURL() string { return m.baseURL }

// Get returns a stored object.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	return o, ok
}

// Keys lists stored keys in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
