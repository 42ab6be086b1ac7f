package store

import (
	"context"
	"time"
)

// MessageKind values delivered by a Subscription.
const KindMessage = "message"

// Message is one item delivered by a subscription iterator.
type Message struct {
	Kind    string
	Channel string
	Payload string
}

// HashEntry is one field write in a batched hash update.
type HashEntry struct {
	Key   string
	Field string
	Value string
}

// HashField names one field in a batched hash delete.
type HashField struct {
	Key   string
	Field string
}

// Subscription is an active channel subscription. Messages is closed when
// the subscription ends, whether by Close or by connection loss.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Store is the shared external store capability: atomic counters, hash
// maps with batched updates, and publish/subscribe messaging.
//
// Synchronous commands run on short-lived pooled connections. Subscribe
// occupies a dedicated connection for the life of the subscription, so a
// subscription never blocks command traffic.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetBatch(ctx context.Context, entries []HashEntry) error
	HDelBatch(ctx context.Context, fields []HashField) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
