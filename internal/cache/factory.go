package cache

import (
	"context"
	"strings"
	"time"
)

// NewStore creates a postgres-backed cache when configured, otherwise the
// in-process LRU. maxBytes bounds the in-process store only; postgres
// entries are bounded by ttl and Prune.
func NewStore(ctx context.Context, databaseURL string, maxBytes int64, ttl time.Duration) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(maxBytes, ttl), nil
	}
	return NewPostgresStore(ctx, databaseURL, ttl)
}
