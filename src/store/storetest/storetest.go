// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/pulsegate/socket/src/store"
)

// Store is an in-memory implementation of store.Store. It counts lookups
// and records TTLs so tests can assert on store traffic, and can inject
// Subscribe failures to exercise retry paths.
type Store struct {
	mu       sync.Mutex
	counters map[string]int64
	hashes   map[string]map[string]string
	ttls     map[string]time.Duration
	subs     map[string][]*subscription

	hgetCalls     int
	expireCalls   int
	subscribeSeen int

	// SubscribeErrs is consumed one entry per Subscribe call; a non-nil
	// entry makes that call fail. Calls past the end succeed.
	SubscribeErrs []error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		counters: make(map[string]int64),
		hashes:   make(map[string]map[string]string),
		ttls:     make(map[string]time.Duration),
		subs:     make(map[string][]*subscription),
	}
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hgetCalls++
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *Store) HSetBatch(_ context.Context, entries []store.HashEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if s.hashes[e.Key] == nil {
			s.hashes[e.Key] = make(map[string]string)
		}
		s.hashes[e.Key][e.Field] = e.Value
	}
	return nil
}

func (s *Store) HDelBatch(_ context.Context, fields []store.HashField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.hashes[f.Key], f.Field)
	}
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCalls++
	s.ttls[key] = ttl
	return nil
}

func (s *Store) Publish(_ context.Context, channel, payload string) error {
	s.mu.Lock()
	targets := append([]*subscription(nil), s.subs[channel]...)
	s.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(store.Message{Kind: store.KindMessage, Channel: channel, Payload: payload})
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, channel string) (store.Subscription, error) {
	s.mu.Lock()
	n := s.subscribeSeen
	s.subscribeSeen++
	if n < len(s.SubscribeErrs) && s.SubscribeErrs[n] != nil {
		err := s.SubscribeErrs[n]
		s.mu.Unlock()
		return nil, err
	}
	sub := &subscription{store: s, channel: channel, ch: make(chan store.Message, 32)}
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

// DropSubscribers closes every subscription on channel without a sentinel,
// simulating an abnormal connection loss.
func (s *Store) DropSubscribers(channel string) {
	s.mu.Lock()
	targets := s.subs[channel]
	s.subs[channel] = nil
	s.mu.Unlock()
	for _, sub := range targets {
		sub.terminate()
	}
}

// HGetCalls reports how many HGet commands were issued.
func (s *Store) HGetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hgetCalls
}

// SubscribeCalls reports how many Subscribe attempts were made.
func (s *Store) SubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeSeen
}

// SubscriberCount reports active subscriptions on channel.
func (s *Store) SubscriberCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[channel])
}

// TTL returns the last TTL set on key, zero if none.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// Hash returns a copy of the named hash.
func (s *Store) Hash(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out
}

type subscription struct {
	store   *Store
	channel string
	ch      chan store.Message

	mu     sync.Mutex
	closed bool
}

func (s *subscription) Messages() <-chan store.Message { return s.ch }

func (s *subscription) Close() error {
	s.store.mu.Lock()
	list := s.store.subs[s.channel]
	for i, sub := range list {
		if sub == s {
			s.store.subs[s.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.store.mu.Unlock()
	s.terminate()
	return nil
}

func (s *subscription) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscription) deliver(msg store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}
