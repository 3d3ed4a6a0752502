package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Address  string // Redis server address (e.g., "localhost:6379")
	Password string // Redis password (optional)
	DB       int    // Redis database number
	// KeyPrefix namespaces all keys written by this store (default: "loql:").
	KeyPrefix string
}

// Redis is a store backed by a shared Redis server, for deployments where
// several proxy instances should see one object store.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrapErr("connecting to redis at "+cfg.Address, err)
	}

	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing Redis client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "loql:"
	}
	return &Redis{client: client, keyPrefix: prefix}
}

func (r *Redis) redisKey(collection, key string) string {
	return r.keyPrefix + fullKey(collection, key)
}

func (r *Redis) Get(ctx context.Context, collection, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.redisKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr("redis get "+key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, collection, key string, value []byte) error {
	if err := r.client.Set(ctx, r.redisKey(collection, key), value, 0).Err(); err != nil {
		return wrapErr("redis set "+key, err)
	}
	return nil
}

func (r *Redis) SetMany(ctx context.Context, collection string, pairs []Pair) error {
	pipe := r.client.Pipeline()
	for _, p := range pairs {
		pipe.Set(ctx, r.redisKey(collection, p.Key), p.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("redis pipeline exec", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return wrapErr("closing redis client", err)
	}
	return nil
}
