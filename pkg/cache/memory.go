package cache

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

type memoryEntry struct {
	key  sortkey.Key
	data []byte
}

func lessEntry(a, b memoryEntry) bool {
	return a.key < b.key
}

// MemoryStore is an in-memory Store with one ordered tree per contract.
// Useful for testing and for short-lived processes.
type MemoryStore struct {
	trees  map[string]*btree.BTreeG[memoryEntry]
	closed bool
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trees: make(map[string]*btree.BTreeG[memoryEntry]),
	}
}

// Floor implements Store.
func (s *MemoryStore) Floor(_ context.Context, contractID string, bound sortkey.Key) (sortkey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", types.ErrStoreClosed
	}
	tree, ok := s.trees[contractID]
	if !ok || tree.Len() == 0 {
		return "", types.ErrNotFound
	}
	if bound == "" {
		latest, _ := tree.Max()
		return latest.key, nil
	}

	var found sortkey.Key
	tree.DescendLessOrEqual(memoryEntry{key: bound}, func(e memoryEntry) bool {
		found = e.key
		return false
	})
	if found == "" {
		return "", types.ErrNotFound
	}
	return found, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, contractID string, key sortkey.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}
	tree, ok := s.trees[contractID]
	if !ok {
		return nil, types.ErrNotFound
	}
	e, ok := tree.Get(memoryEntry{key: key})
	if !ok {
		return nil, types.ErrNotFound
	}
	return bytes.Clone(e.data), nil
}

// PutIfGreater implements Store.
func (s *MemoryStore) PutIfGreater(_ context.Context, contractID string, key sortkey.Key, data []byte) (bool, error) {
	if err := validateContractID(contractID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, types.ErrStoreClosed
	}
	tree, ok := s.trees[contractID]
	if !ok {
		tree = btree.NewG(8, lessEntry)
		s.trees[contractID] = tree
	}
	if latest, ok := tree.Max(); ok && latest.key >= key {
		return false, nil
	}
	tree.ReplaceOrInsert(memoryEntry{key: key, data: bytes.Clone(data)})
	return true, nil
}

// DeleteAfter implements Store.
func (s *MemoryStore) DeleteAfter(_ context.Context, contractID string, after sortkey.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, types.ErrStoreClosed
	}
	tree, ok := s.trees[contractID]
	if !ok {
		return 0, nil
	}

	var doomed []memoryEntry
	tree.AscendGreaterOrEqual(memoryEntry{key: after}, func(e memoryEntry) bool {
		if e.key != after {
			doomed = append(doomed, e)
		}
		return true
	})
	for _, e := range doomed {
		tree.Delete(e)
	}
	if tree.Len() == 0 {
		delete(s.trees, contractID)
	}
	return len(doomed), nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(_ context.Context, contractID string) ([]sortkey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}
	tree, ok := s.trees[contractID]
	if !ok {
		return nil, nil
	}
	keys := make([]sortkey.Key, 0, tree.Len())
	tree.Ascend(func(e memoryEntry) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.trees = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
