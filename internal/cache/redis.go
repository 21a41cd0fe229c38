package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key
	Prefix string
}

// RedisStore keeps entries as JSON strings without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", config.Addr)
	}

	return NewRedisStoreWithClient(client, config.Prefix), nil
}

// NewRedisStoreWithClient creates a store with an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Load(ctx context.Context, hash string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.prefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "decoding entry")
	}
	return &e, nil
}

func (r *RedisStore) Save(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding entry")
	}
	return r.client.Set(ctx, r.prefix+e.Hash, data, 0).Err()
}

func (r *RedisStore) latestKey() string { return r.prefix + "@latest" }

// keys lists entry keys under the prefix, excluding the latest marker.
func (r *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); k != r.latestKey() {
			keys = append(keys, k)
		}
	}
	return keys, iter.Err()
}

func (r *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.client.Del(ctx, r.latestKey()).Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	return int(n), err
}

func (r *RedisStore) SaveLatest(ctx context.Context, hash string) error {
	return r.client.Set(ctx, r.latestKey(), hash, 0).Err()
}

func (r *RedisStore) LoadLatest(ctx context.Context) (string, error) {
	hash, err := r.client.Get(ctx, r.latestKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return hash, err
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	return len(keys), err
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
