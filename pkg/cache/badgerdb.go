package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// BadgerDBStore implements Store using BadgerDB.
// BadgerDB is optimized for SSDs and suits write-heavy snapshot workloads.
type BadgerDBStore struct {
	db     *badger.DB
	path   string
	closed bool
	mu     sync.RWMutex
}

// BadgerDBOptions contains configuration options for BadgerDB.
type BadgerDBOptions struct {
	// SyncWrites ensures durability by syncing writes to disk.
	// Default: true
	SyncWrites bool

	// Compression enables Snappy compression for values.
	// Default: true
	Compression bool

	// InMemory keeps all data in memory. Path is ignored.
	// Default: false
	InMemory bool

	// MemTableSize is the size of the memtable.
	// Default: 64MB
	MemTableSize int64

	// Logger is an optional logger for BadgerDB.
	// If nil, logging is disabled.
	Logger badger.Logger
}

// DefaultBadgerDBOptions returns sensible default options.
func DefaultBadgerDBOptions() *BadgerDBOptions {
	return &BadgerDBOptions{
		SyncWrites:   true,
		Compression:  true,
		MemTableSize: 64 << 20, // 64MB
	}
}

// NewBadgerDBStore opens or creates a BadgerDB-backed store at path.
func NewBadgerDBStore(path string) (*BadgerDBStore, error) {
	return NewBadgerDBStoreWithOptions(path, DefaultBadgerDBOptions())
}

// NewBadgerDBStoreWithOptions opens a BadgerDB-backed store with custom options.
func NewBadgerDBStoreWithOptions(path string, opts *BadgerDBOptions) (*BadgerDBStore, error) {
	if opts == nil {
		opts = DefaultBadgerDBOptions()
	}

	badgerOpts := badger.DefaultOptions(path)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites && !opts.InMemory)
	badgerOpts = badgerOpts.WithMemTableSize(opts.MemTableSize)

	if opts.Compression {
		badgerOpts = badgerOpts.WithCompression(options.Snappy)
	} else {
		badgerOpts = badgerOpts.WithCompression(options.None)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badgerdb: %w", err)
	}
	return &BadgerDBStore{db: db, path: path}, nil
}

// floorIn finds the greatest key at or below bound inside txn.
func floorIn(txn *badger.Txn, contractID string, bound sortkey.Key) (sortkey.Key, error) {
	prefix := snapshotPrefix(contractID)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration seeks to the largest key <= seek.
	var seek []byte
	if bound == "" {
		seek = append(snapshotPrefix(contractID), 0xff)
	} else {
		seek = snapshotKey(contractID, bound)
	}
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return "", types.ErrNotFound
	}
	return sortkey.Key(it.Item().KeyCopy(nil)[len(prefix):]), nil
}

// Floor implements Store.
func (s *BadgerDBStore) Floor(_ context.Context, contractID string, bound sortkey.Key) (sortkey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", types.ErrStoreClosed
	}

	var found sortkey.Key
	err := s.db.View(func(txn *badger.Txn) error {
		k, err := floorIn(txn, contractID, bound)
		found = k
		return err
	})
	if err != nil {
		return "", err
	}
	return found, nil
}

// Get implements Store.
func (s *BadgerDBStore) Get(_ context.Context, contractID string, key sortkey.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(contractID, key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", key, err)
	}
	return data, nil
}

// PutIfGreater implements Store.
func (s *BadgerDBStore) PutIfGreater(_ context.Context, contractID string, key sortkey.Key, data []byte) (bool, error) {
	if err := validateContractID(contractID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, types.ErrStoreClosed
	}

	stored := false
	err := s.db.Update(func(txn *badger.Txn) error {
		latest, err := floorIn(txn, contractID, "")
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		if err == nil && latest >= key {
			return nil
		}
		if err := txn.Set(snapshotKey(contractID, key), data); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("writing snapshot: %w", err)
	}
	return stored, nil
}

// DeleteAfter implements Store.
func (s *BadgerDBStore) DeleteAfter(_ context.Context, contractID string, after sortkey.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, types.ErrStoreClosed
	}

	prefix := snapshotPrefix(contractID)
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if after != "" {
			start = floorLimit(contractID, after)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			doomed = append(doomed, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterating snapshots: %w", err)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("deleting snapshots: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("deleting snapshots: %w", err)
	}
	return len(doomed), nil
}

// Keys implements Store.
func (s *BadgerDBStore) Keys(_ context.Context, contractID string) ([]sortkey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}

	prefix := snapshotPrefix(contractID)
	var keys []sortkey.Key
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, sortkey.Key(it.Item().KeyCopy(nil)[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return keys, nil
}

// Close closes the database.
func (s *BadgerDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*BadgerDBStore)(nil)
