// Package session stores per-user sessions as hashes in the shared store.
package session

import (
	"context"
	"time"

	"github.com/pulsegate/socket/src/store"
	"github.com/rs/zerolog"
)

const connectIDField = "connect_id"

// Sessions opens sessions keyed by session id.
type Sessions struct {
	store  store.Store
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a session opener. Sessions live under prefix+"sess:" and
// expire after ttl unless refreshed.
func New(st store.Store, prefix string, ttl time.Duration, logger zerolog.Logger) *Sessions {
	return &Sessions{
		store:  st,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "sessions").Logger(),
	}
}

// Open loads the session for id, starting from empty state when the store
// holds nothing for it.
func (s *Sessions) Open(ctx context.Context, id string) (*Session, error) {
	key := s.prefix + "sess:" + id
	fields, err := s.store.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	return &Session{
		store:  s.store,
		key:    key,
		id:     id,
		ttl:    s.ttl,
		fields: fields,
		dirty:  make(map[string]string),
	}, nil
}

// Session is one user's session state. Mutations are buffered locally and
// written in one batch by Save.
type Session struct {
	store     store.Store
	key       string
	id        string
	ttl       time.Duration
	keepAlive bool
	fields    map[string]string
	dirty     map[string]string
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Get returns a session field, empty if unset.
func (s *Session) Get(field string) string { return s.fields[field] }

// Set buffers a field write until the next Save.
func (s *Session) Set(field, value string) {
	s.fields[field] = value
	s.dirty[field] = value
}

// SetConnectID binds the owning connection's id into the session.
func (s *Session) SetConnectID(connID string) { s.Set(connectIDField, connID) }

// ConnectID returns the bound connection id, empty if none.
func (s *Session) ConnectID() string { return s.Get(connectIDField) }

// SetKeepAlive controls whether Save refreshes the session TTL.
func (s *Session) SetKeepAlive(on bool) { s.keepAlive = on }

// Save writes buffered fields in one batched operation and, when
// keep-alive is enabled, refreshes the TTL (refresh on access).
func (s *Session) Save(ctx context.Context) error {
	if len(s.dirty) > 0 {
		entries := make([]store.HashEntry, 0, len(s.dirty))
		for f, v := range s.dirty {
			entries = append(entries, store.HashEntry{Key: s.key, Field: f, Value: v})
		}
		if err := s.store.HSetBatch(ctx, entries); err != nil {
			return err
		}
		s.dirty = make(map[string]string)
	}
	if s.keepAlive {
		return s.store.Expire(ctx, s.key, s.ttl)
	}
	return nil
}
