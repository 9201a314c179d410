package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// Store is the persistence backend for encoded snapshots. Keys within a
// contract are ordered by plain byte comparison of sort keys.
// All methods must be safe for concurrent use.
type Store interface {
	// Floor returns the greatest stored key at or below bound. An empty
	// bound means the latest key. Returns types.ErrNotFound if the contract
	// has no snapshot in range.
	Floor(ctx context.Context, contractID string, bound sortkey.Key) (sortkey.Key, error)

	// Get returns the encoded snapshot stored at key.
	Get(ctx context.Context, contractID string, key sortkey.Key) ([]byte, error)

	// PutIfGreater stores data at key only if key is strictly greater than
	// the contract's latest key. It reports whether the write happened.
	PutIfGreater(ctx context.Context, contractID string, key sortkey.Key, data []byte) (bool, error)

	// DeleteAfter removes every snapshot with a key strictly greater than
	// after and returns how many were removed. An empty after removes all.
	DeleteAfter(ctx context.Context, contractID string, after sortkey.Key) (int, error)

	// Keys returns the contract's stored keys in ascending order.
	Keys(ctx context.Context, contractID string) ([]sortkey.Key, error)

	// Close releases resources held by the store.
	Close() error
}

// Backend names accepted by NewStore.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendBadgerDB = "badgerdb"
	BackendRedis    = "redis"
)

// keySep separates the contract id from the sort key in flat keyspaces.
// Sort keys never contain it.
const keySep = "\x00"

func validateContractID(contractID string) error {
	if contractID == "" || strings.Contains(contractID, keySep) {
		return types.WrapValidationError(fmt.Errorf("%q", contractID), "contract id")
	}
	return nil
}

// snapshotPrefix returns the flat-keyspace prefix for a contract.
func snapshotPrefix(contractID string) []byte {
	return []byte("S:" + contractID + keySep)
}

func snapshotKey(contractID string, key sortkey.Key) []byte {
	return append(snapshotPrefix(contractID), key...)
}

// floorLimit returns the exclusive upper limit for keys at or below bound.
// Keys extending bound with a sequence suffix sort after it.
func floorLimit(contractID string, bound sortkey.Key) []byte {
	return append(snapshotKey(contractID, bound), 0x00)
}
