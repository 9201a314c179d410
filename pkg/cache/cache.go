package cache

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// DefaultLRUSize is the number of decoded snapshots kept in memory.
const DefaultLRUSize = 256

type lruKey struct {
	contractID string
	key        sortkey.Key
}

// EvaluationCache stores contract snapshots on top of a Store and keeps
// recently used decoded snapshots in an LRU.
//
// Snapshots are append-only per contract: Put only accepts keys above the
// latest stored one, so readers of older snapshots are never affected.
type EvaluationCache struct {
	store   Store
	decoded *lru.Cache[lruKey, *CachedValue]
	logger  *logging.Logger
	metrics metrics.Metrics
}

// Option configures an EvaluationCache.
type Option func(*EvaluationCache)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *EvaluationCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(c *EvaluationCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates an EvaluationCache over store. lruSize <= 0 uses DefaultLRUSize.
func New(store Store, lruSize int, opts ...Option) (*EvaluationCache, error) {
	if store == nil {
		return nil, errors.New("cache: nil store")
	}
	if lruSize <= 0 {
		lruSize = DefaultLRUSize
	}
	decoded, err := lru.New[lruKey, *CachedValue](lruSize)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot lru: %w", err)
	}

	c := &EvaluationCache{
		store:   store,
		decoded: decoded,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("cache")
	return c, nil
}

// GetLatestBefore returns a copy of the snapshot with the greatest key at or
// below bound, or false if the contract has no such snapshot. An empty bound
// means the latest snapshot.
func (c *EvaluationCache) GetLatestBefore(ctx context.Context, contractID string, bound sortkey.Key) (*CachedValue, bool, error) {
	key, err := c.store.Floor(ctx, contractID, bound)
	if errors.Is(err, types.ErrNotFound) {
		c.metrics.IncCacheMisses()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapContractError(err, contractID)
	}

	lk := lruKey{contractID: contractID, key: key}
	if v, ok := c.decoded.Get(lk); ok {
		c.metrics.IncCacheHits(metrics.LayerMemory)
		return v.Clone(), true, nil
	}

	data, err := c.store.Get(ctx, contractID, key)
	if errors.Is(err, types.ErrNotFound) {
		// Removed between Floor and Get by a concurrent invalidation.
		c.metrics.IncCacheMisses()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapContractError(err, contractID)
	}
	v, err := Decode(data)
	if err != nil {
		return nil, false, types.WrapContractError(fmt.Errorf("snapshot %s: %w", key, err), contractID)
	}
	if v.SortKey != key {
		return nil, false, types.WrapContractError(
			fmt.Errorf("%w: snapshot stored at %s claims %s", types.ErrCorruptValue, key, v.SortKey), contractID)
	}

	c.decoded.Add(lk, v)
	c.metrics.IncCacheHits(metrics.LayerStore)
	return v.Clone(), true, nil
}

// Put stores value as the contract's snapshot at key. It is a no-op,
// reporting false, when key is not strictly greater than the latest key.
func (c *EvaluationCache) Put(ctx context.Context, contractID string, key sortkey.Key, value *CachedValue) (bool, error) {
	if err := sortkey.Validate(key); err != nil {
		return false, types.WrapContractError(err, contractID)
	}

	v := value.Clone()
	v.SortKey = key
	data, err := Encode(v)
	if err != nil {
		return false, types.WrapContractError(err, contractID)
	}

	stored, err := c.store.PutIfGreater(ctx, contractID, key, data)
	if err != nil {
		c.metrics.IncCacheWrites(metrics.WriteFailed)
		return false, types.WrapContractError(err, contractID)
	}
	if !stored {
		c.metrics.IncCacheWrites(metrics.WriteStale)
		c.logger.Debug("skipped stale snapshot",
			logging.ContractID(contractID),
			logging.SortKey(string(key)))
		return false, nil
	}

	c.decoded.Add(lruKey{contractID: contractID, key: key}, v)
	c.metrics.IncCacheWrites(metrics.WriteStored)
	c.logger.Debug("stored snapshot",
		logging.ContractID(contractID),
		logging.SortKey(string(key)),
		logging.Size(len(data)))
	return true, nil
}

// Invalidate removes every snapshot of the contract with a key strictly
// greater than after. An empty after removes all of them.
func (c *EvaluationCache) Invalidate(ctx context.Context, contractID string, after sortkey.Key) (int, error) {
	n, err := c.store.DeleteAfter(ctx, contractID, after)
	if err != nil {
		return 0, types.WrapContractError(err, contractID)
	}
	for _, lk := range c.decoded.Keys() {
		if lk.contractID == contractID && (after == "" || lk.key > after) {
			c.decoded.Remove(lk)
		}
	}

	c.metrics.IncCacheInvalidations(n)
	c.logger.Info("invalidated snapshots",
		logging.ContractID(contractID),
		logging.SortKey(string(after)),
		logging.Count(n))
	return n, nil
}

// Snapshots lists the contract's snapshot keys in ascending order.
func (c *EvaluationCache) Snapshots(ctx context.Context, contractID string) ([]sortkey.Key, error) {
	keys, err := c.store.Keys(ctx, contractID)
	if err != nil {
		return nil, types.WrapContractError(err, contractID)
	}
	return keys, nil
}

// Close closes the underlying store.
func (c *EvaluationCache) Close() error {
	c.decoded.Purge()
	return c.store.Close()
}
