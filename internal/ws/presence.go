package ws

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 60 * time.Second

// Presence tracks who currently holds at least one push connection, shared
// across nodes through redis keys with a TTL refreshed by client traffic.
type Presence struct {
	rdb    *redis.Client
	prefix string
}

func NewPresence(rdb *redis.Client, prefix string) *Presence {
	if prefix == "" {
		prefix = "presence:"
	}
	return &Presence{rdb: rdb, prefix: prefix}
}

func (p *Presence) key(userID string) string { return p.prefix + userID }

func (p *Presence) Online(ctx context.Context, userID string) error {
	return p.rdb.Set(ctx, p.key(userID), "online", presenceTTL).Err()
}

func (p *Presence) Refresh(ctx context.Context, userID string) error {
	return p.rdb.Expire(ctx, p.key(userID), presenceTTL).Err()
}

func (p *Presence) Offline(ctx context.Context, userID string) error {
	return p.rdb.Del(ctx, p.key(userID)).Err()
}

func (p *Presence) IsOnline(ctx context.Context, userID string) bool {
	val, err := p.rdb.Get(ctx, p.key(userID)).Result()
	return err == nil && val == "online"
}
