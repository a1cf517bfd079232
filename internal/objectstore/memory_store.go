package objectstore

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps uploaded objects in process memory. It backs memory://
// destinations and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) UploadObject(_ context.Context, objectName, filename string) error {
	key, err := requireKey(objectName)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read upload source: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = content
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, objectName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.objects[normalizeKey(objectName)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(content), nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = normalizeKey(prefix)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for _, key := range slices.Sorted(maps.Keys(m.objects)) {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
