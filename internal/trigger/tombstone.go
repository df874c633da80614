package trigger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tombstones marks revoked handles in Redis. A tombstone must outlive the
// message it revokes, so the default TTL exceeds MaxDelay.
type Tombstones struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTombstones(rdb *redis.Client) *Tombstones {
	return &Tombstones{rdb: rdb, ttl: MaxDelay + 24*time.Hour}
}

func tombKey(handle string) string { return "prebooking:revoked:" + handle }

func (t *Tombstones) Revoke(ctx context.Context, handle string) error {
	return t.rdb.Set(ctx, tombKey(handle), 1, t.ttl).Err()
}

func (t *Tombstones) Revoked(ctx context.Context, handle string) (bool, error) {
	n, err := t.rdb.Exists(ctx, tombKey(handle)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
