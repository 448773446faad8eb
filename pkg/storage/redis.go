package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "notify:badge:"
	defaultRedisTTL       = 90 * 24 * time.Hour
	defaultRedisTimeout   = 3 * time.Second
)

// RedisStorage keeps badge state in Redis hashes, one hash per key
type RedisStorage struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(config *StorageConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.RedisAddr,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageWithClient(client, config), nil
}

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client *redis.Client, config *StorageConfig) *RedisStorage {
	s := &RedisStorage{
		client:  client,
		prefix:  defaultRedisKeyPrefix,
		ttl:     defaultRedisTTL,
		timeout: defaultRedisTimeout,
	}
	if config != nil {
		if config.KeyPrefix != "" {
			s.prefix = config.KeyPrefix
		}
		if config.TTL > 0 {
			s.ttl = config.TTL
		}
		if config.Timeout > 0 {
			s.timeout = config.Timeout
		}
	}
	return s
}

// Save writes the state with HSET and refreshes the expiry
func (s *RedisStorage) Save(state *BadgeStateData) error {
	if state == nil || state.Key == "" {
		return fmt.Errorf("badge state key cannot be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := s.prefix + state.Key
	fields := map[string]any{
		"count":           state.Count,
		"last_checked_at": state.LastCheckedAt.Format(time.RFC3339Nano),
		"updated_at":      state.UpdatedAt.Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save badge state %s: %w", state.Key, err)
	}
	return nil
}

// Load reads the hash for key
func (s *RedisStorage) Load(key string) (*BadgeStateData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load badge state %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	state := &BadgeStateData{Key: key}
	if v, ok := fields["count"]; ok {
		if state.Count, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid count in redis for key %s: %w", key, err)
		}
	}
	if v, ok := fields["last_checked_at"]; ok {
		state.LastCheckedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := fields["updated_at"]; ok {
		state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return state, nil
}

// Delete removes the hash for key
func (s *RedisStorage) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close closes the client
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
