package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore implements Store on a Redis client. Commands use the client's
// connection pool; each Subscribe call gets its own dedicated connection
// from go-redis pub/sub semantics.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a store backed by the given Redis configuration.
func NewRedisStore(cfg *Config, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redis-store").Logger(),
	}
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client and its pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// HSetBatch writes all entries in one pipelined round trip.
func (s *RedisStore) HSetBatch(ctx context.Context, entries []HashEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.HSet(ctx, e.Key, e.Field, e.Value)
		}
		return nil
	})
	return err
}

// HDelBatch deletes all named fields in one pipelined round trip.
func (s *RedisStore) HDelBatch(ctx context.Context, fields []HashField) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range fields {
			pipe.HDel(ctx, f.Key, f.Field)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated pub/sub connection for channel and waits for
// the subscription confirmation before returning.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	rs := &redisSubscription{sub: sub, out: make(chan Message, 16)}
	go rs.pump()
	return rs, nil
}

type redisSubscription struct {
	sub *redis.PubSub
	out chan Message
}

func (r *redisSubscription) Messages() <-chan Message { return r.out }

func (r *redisSubscription) Close() error { return r.sub.Close() }

// pump converts delivered redis messages until the source channel closes,
// which happens on Close or when the dedicated connection drops.
func (r *redisSubscription) pump() {
	defer close(r.out)
	for msg := range r.sub.Channel() {
		r.out <- Message{Kind: KindMessage, Channel: msg.Channel, Payload: msg.Payload}
	}
}
