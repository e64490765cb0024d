package ports

import (
	"context"
	"time"
)

// Cache is a small key-value store for sync cursors and status markers
// (last pull time, last drain report). The sqlite adapter ignores ttl.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
