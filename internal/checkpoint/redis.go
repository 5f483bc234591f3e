package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
)

// #region redis-store
// RedisStore keeps checkpoints as plain string values under prefix+handle.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	owned  bool
}

// NewRedisStore dials addr and pings it.
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix, owned: true}, nil
}

// NewRedisStoreWithClient shares an existing client; Close leaves it open.
func NewRedisStoreWithClient(rdb *goredis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// RedisOpener returns an Opener that reuses one shared client.
func RedisOpener(rdb *goredis.Client, prefix string) Opener {
	return func(context.Context) (Store, error) {
		return NewRedisStoreWithClient(rdb, prefix), nil
	}
}

func (r *RedisStore) key(handle string) string {
	return r.prefix + handle
}

// Read fetches the payload for handle.
func (r *RedisStore) Read(ctx context.Context, handle string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.key(handle)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("read %s: %w", handle, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", handle, err)
	}
	return data, nil
}

// Write stores the payload for handle without expiry.
func (r *RedisStore) Write(ctx context.Context, handle string, data []byte) error {
	if err := r.rdb.Set(ctx, r.key(handle), data, 0).Err(); err != nil {
		return fmt.Errorf("write %s: %w", handle, err)
	}
	return nil
}

// Close releases the client when this store dialed it.
func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}

// #endregion redis-store
