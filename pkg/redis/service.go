package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type KeyType string

const (
	LEG_STATE       KeyType = "astra_call_leg_state"
	FAILURE_CHANNEL KeyType = "astra_call_failures"
)

// maxSwapRetries bounds optimistic-lock retries when a watched key changes underneath us
const maxSwapRetries = 5

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var ErrKeyNotExist = redis.Nil

// SwapFunc receives the current value of a key and returns the value to write.
// Returning write=false leaves the key untouched.
type SwapFunc func(current string, exists bool) (next string, write bool)

type RedisServiceInterface interface {
	GenerateKey(keyType KeyType, identifier string) string
	GetValue(ctx context.Context, key string) (string, error)
	CompareAndSwap(ctx context.Context, key string, ttl time.Duration, fn SwapFunc) (bool, error)
	Publish(ctx context.Context, channel string, message interface{}) error
}

type RedisService struct {
	client *redis.Client
}

func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisService{
		client: client,
	}, nil
}

// GenerateKey generates a Redis key with the given key type and identifier
func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", string(keyType), identifier)
}

// GetValue gets a value from Redis by key
func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// CompareAndSwap reads key under WATCH, lets fn decide the next value and writes it in a
// MULTI/EXEC block. It reports whether a write happened.
func (r *RedisService) CompareAndSwap(ctx context.Context, key string, ttl time.Duration, fn SwapFunc) (bool, error) {
	for i := 0; i < maxSwapRetries; i++ {
		swapped := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists = false
			} else if err != nil {
				return err
			}

			next, write := fn(current, exists)
			if !write {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, ttl)
				return nil
			})
			if err == nil {
				swapped = true
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("compare and swap %s: %w", key, err)
		}
		return swapped, nil
	}
	return false, fmt.Errorf("compare and swap %s: too much contention", key)
}

// Publish publishes a message to a Redis channel
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Ping checks the connection
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (r *RedisService) Close() error {
	return r.client.Close()
}
