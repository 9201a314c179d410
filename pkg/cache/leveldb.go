package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// LevelDBStore implements Store using LevelDB. Snapshot keys are
// "S:<contract>\x00<sortKey>", so LevelDB's byte-wise ordering is the
// sort key ordering.
type LevelDBStore struct {
	db     *leveldb.DB
	path   string
	closed bool
	mu     sync.RWMutex
}

// NewLevelDBStore opens or creates a LevelDB-backed store at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}
	return &LevelDBStore{db: db, path: path}, nil
}

// Floor implements Store.
func (s *LevelDBStore) Floor(_ context.Context, contractID string, bound sortkey.Key) (sortkey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", types.ErrStoreClosed
	}
	return s.floor(contractID, bound)
}

// floor must be called with the lock held.
func (s *LevelDBStore) floor(contractID string, bound sortkey.Key) (sortkey.Key, error) {
	prefix := snapshotPrefix(contractID)
	rng := util.BytesPrefix(prefix)
	if bound != "" {
		rng.Limit = floorLimit(contractID, bound)
	}

	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return "", fmt.Errorf("iterating snapshots: %w", err)
		}
		return "", types.ErrNotFound
	}
	return sortkey.Key(iter.Key()[len(prefix):]), nil
}

// Get implements Store.
func (s *LevelDBStore) Get(_ context.Context, contractID string, key sortkey.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}
	data, err := s.db.Get(snapshotKey(contractID, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", key, err)
	}
	return data, nil
}

// PutIfGreater implements Store.
func (s *LevelDBStore) PutIfGreater(_ context.Context, contractID string, key sortkey.Key, data []byte) (bool, error) {
	if err := validateContractID(contractID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, types.ErrStoreClosed
	}
	latest, err := s.floor(contractID, "")
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	if err == nil && latest >= key {
		return false, nil
	}

	if err := s.db.Put(snapshotKey(contractID, key), data, &opt.WriteOptions{Sync: true}); err != nil {
		return false, fmt.Errorf("writing snapshot: %w", err)
	}
	return true, nil
}

// DeleteAfter implements Store.
func (s *LevelDBStore) DeleteAfter(_ context.Context, contractID string, after sortkey.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, types.ErrStoreClosed
	}

	rng := util.BytesPrefix(snapshotPrefix(contractID))
	if after != "" {
		rng.Start = floorLimit(contractID, after)
	}
	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterating snapshots: %w", err)
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, fmt.Errorf("deleting snapshots: %w", err)
	}
	return batch.Len(), nil
}

// Keys implements Store.
func (s *LevelDBStore) Keys(_ context.Context, contractID string) ([]sortkey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}

	prefix := snapshotPrefix(contractID)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var keys []sortkey.Key
	for iter.Next() {
		keys = append(keys, sortkey.Key(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return keys, nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*LevelDBStore)(nil)
