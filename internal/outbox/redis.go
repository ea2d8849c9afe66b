package outbox

import (
	"context"
	"time"

	"github.com/go-redis/redis/v9"

	"github.com/nzlov/relay/internal/identity"
)

// Redis keeps each user's pending frames in a capped list so they survive a
// restart of the relay.
type Redis struct {
	rdb      *redis.Client
	prefix   string
	capacity int64
	ttl      time.Duration
}

// NewRedis wraps a connected client. Keys are prefix + user id.
func NewRedis(rdb *redis.Client, prefix string, capacity int, ttl time.Duration) *Redis {
	if capacity <= 0 {
		capacity = 100
	}
	if prefix == "" {
		prefix = "relay:outbox:"
	}
	return &Redis{rdb: rdb, prefix: prefix, capacity: int64(capacity), ttl: ttl}
}

func (r *Redis) key(id identity.UserID) string {
	return r.prefix + string(id)
}

func (r *Redis) Push(ctx context.Context, id identity.UserID, frame []byte) error {
	key := r.key(id)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, frame)
		p.LTrim(ctx, key, -r.capacity, -1)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

func (r *Redis) Drain(ctx context.Context, id identity.UserID) ([][]byte, error) {
	key := r.key(id)
	var lr *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		lr = p.LRange(ctx, key, 0, -1)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	vals := lr.Val()
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
