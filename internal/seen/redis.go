package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the set key used when none is configured.
const DefaultKey = "promptforge:seen"

// RedisRegistry stores seen IDs in a Redis set.
type RedisRegistry struct {
	client *redis.Client
	key    string
}

// NewRedisRegistry connects to redisURL and verifies the connection.
func NewRedisRegistry(ctx context.Context, redisURL, key string) (*RedisRegistry, error) {
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return NewRedisRegistryFromClient(client, key), nil
}

// NewRedisRegistryFromClient wraps an existing client.
func NewRedisRegistryFromClient(client *redis.Client, key string) *RedisRegistry {
	if key == "" {
		key = DefaultKey
	}
	return &RedisRegistry{client: client, key: key}
}

func (r *RedisRegistry) Add(ctx context.Context, ids ...string) error {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, r.key, members...).Err(); err != nil {
		return fmt.Errorf("failed to add seen ids: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Count(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count seen ids: %w", err)
	}
	return n, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
