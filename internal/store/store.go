package store

import "context"

// KV is a durable key-value namespace surviving process restarts. Values are
// opaque bytes; callers layer JSON on top.
type KV interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
	GetAll(ctx context.Context) (map[string][]byte, error)
	// BytesInUse reports total stored bytes for quota monitoring.
	BytesInUse(ctx context.Context) (int64, error)
	Close() error
}
