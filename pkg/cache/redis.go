package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// redisPutIfGreaterScript stores a snapshot only if its key is above the
// contract's latest key. Members of the index set all score 0, so the set
// is ordered lexicographically.
// KEYS[1] = index sorted set
// KEYS[2] = value hash
// ARGV[1] = sort key
// ARGV[2] = encoded snapshot
var redisPutIfGreaterScript = redis.NewScript(`
local latest = redis.call("ZREVRANGEBYLEX", KEYS[1], "+", "-", "LIMIT", 0, 1)
if latest[1] and latest[1] >= ARGV[1] then
    return 0
end
redis.call("ZADD", KEYS[1], 0, ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// RedisStore implements Store on Redis. Each contract has a sorted set of
// snapshot keys for lexicographic range queries and a hash of encoded
// snapshots.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key written by the store.
	// Default: "warp"
	KeyPrefix string
}

// NewRedisStore connects to a Redis server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStoreFromClient(rdb, opts.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the
// client and closes it on Close.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "warp"
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) indexKey(contractID string) string {
	return fmt.Sprintf("%s:{%s}:keys", s.prefix, contractID)
}

func (s *RedisStore) valuesKey(contractID string) string {
	return fmt.Sprintf("%s:{%s}:values", s.prefix, contractID)
}

// Floor implements Store.
func (s *RedisStore) Floor(ctx context.Context, contractID string, bound sortkey.Key) (sortkey.Key, error) {
	maxLex := "+"
	if bound != "" {
		maxLex = "[" + string(bound)
	}
	members, err := s.client.ZRevRangeByLex(ctx, s.indexKey(contractID), &redis.ZRangeBy{
		Min:   "-",
		Max:   maxLex,
		Count: 1,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("querying snapshot index: %w", err)
	}
	if len(members) == 0 {
		return "", types.ErrNotFound
	}
	return sortkey.Key(members[0]), nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, contractID string, key sortkey.Key) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.valuesKey(contractID), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", key, err)
	}
	return data, nil
}

// PutIfGreater implements Store.
func (s *RedisStore) PutIfGreater(ctx context.Context, contractID string, key sortkey.Key, data []byte) (bool, error) {
	if err := validateContractID(contractID); err != nil {
		return false, err
	}
	keys := []string{s.indexKey(contractID), s.valuesKey(contractID)}
	stored, err := redisPutIfGreaterScript.Run(ctx, s.client, keys, string(key), data).Int()
	if err != nil {
		return false, fmt.Errorf("writing snapshot: %w", err)
	}
	return stored == 1, nil
}

// DeleteAfter implements Store.
func (s *RedisStore) DeleteAfter(ctx context.Context, contractID string, after sortkey.Key) (int, error) {
	minLex := "-"
	if after != "" {
		minLex = "(" + string(after)
	}
	index := s.indexKey(contractID)
	members, err := s.client.ZRangeByLex(ctx, index, &redis.ZRangeBy{
		Min: minLex,
		Max: "+",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("querying snapshot index: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	zmembers := make([]any, len(members))
	for i, m := range members {
		zmembers[i] = m
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, index, zmembers...)
		pipe.HDel(ctx, s.valuesKey(contractID), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting snapshots: %w", err)
	}
	return len(members), nil
}

// Keys implements Store.
func (s *RedisStore) Keys(ctx context.Context, contractID string) ([]sortkey.Key, error) {
	members, err := s.client.ZRangeByLex(ctx, s.indexKey(contractID), &redis.ZRangeBy{
		Min: "-",
		Max: "+",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("querying snapshot index: %w", err)
	}
	keys := make([]sortkey.Key, len(members))
	for i, m := range members {
		keys[i] = sortkey.Key(m)
	}
	return keys, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
