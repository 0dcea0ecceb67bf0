package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"collabcanvas/api/internal/util"
)

// releaseScript deletes the key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager shares leases between server instances through Redis.
type RedisManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisManager connects to redisURL and verifies the connection.
func NewRedisManager(redisURL string, ttl time.Duration) (*RedisManager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisManagerWithClient(client, ttl), nil
}

func NewRedisManagerWithClient(client *redis.Client, ttl time.Duration) *RedisManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisManager{
		client: client,
		prefix: "lease:",
		ttl:    ttl,
	}
}

func (m *RedisManager) key(id string) string {
	return m.prefix + id
}

func (m *RedisManager) Acquire(ctx context.Context, id string) (Lease, error) {
	token := util.NewID("lease")
	ok, err := m.client.SetNX(ctx, m.key(id), token, m.ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("acquire lease %s: %w", id, err)
	}
	if !ok {
		return Lease{}, fmt.Errorf("%w: %s", ErrHeld, id)
	}
	return Lease{ID: id, Token: token, ExpiresAt: time.Now().Add(m.ttl)}, nil
}

func (m *RedisManager) Release(ctx context.Context, l Lease) error {
	if err := releaseScript.Run(ctx, m.client, []string{m.key(l.ID)}, l.Token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.ID, err)
	}
	return nil
}

func (m *RedisManager) Close() error {
	return m.client.Close()
}

func (m *RedisManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
