package cache

import (
	"context"
	"fmt"
	"os"
)

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Backend string
	Path    string
	Redis   RedisOptions
}

// OpenStore opens the backend named by cfg.Backend. Disk backends create
// their directory if needed.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendLevelDB:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		return NewLevelDBStore(cfg.Path)
	case BackendBadgerDB:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		return NewBadgerDBStore(cfg.Path)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
