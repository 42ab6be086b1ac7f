// Package registry allocates connection identities and maintains the
// id<->tag pair mapping in the shared store.
package registry

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/pulsegate/socket/src/store"
	"github.com/rs/zerolog"
)

// Key layout under the configured prefix.
const (
	counterSuffix = "conn:counter"
	idToTagSuffix = "id2tag"
	tagToIDSuffix = "tag2id"
	channelInfix  = "conn:"
)

// CounterKey returns the shared connection id counter key.
func CounterKey(prefix string) string { return prefix + counterSuffix }

// IDToTagKey returns the hash key mapping connection id to tag.
func IDToTagKey(prefix string) string { return prefix + idToTagSuffix }

// TagToIDKey returns the hash key mapping tag to connection id.
func TagToIDKey(prefix string) string { return prefix + tagToIDSuffix }

// ChannelFor derives a connection's private broadcast channel name.
func ChannelFor(prefix, connID string) string { return prefix + channelInfix + connID }

// ErrEmptyTag rejects a tag assignment with no value.
var ErrEmptyTag = errors.New("tag must not be empty")

// Registry holds one connection's identity. The id is allocated lazily
// from the shared counter and is immutable once set. At most one tag is
// bound at a time; both directions of the mapping are written and removed
// together.
type Registry struct {
	store  store.Store
	prefix string
	logger zerolog.Logger

	mu        sync.Mutex
	id        string
	tag       string
	tagLoaded bool
}

// New creates a registry for a single connection.
func New(st store.Store, prefix string, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  st,
		prefix: prefix,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// ConnID returns this connection's id, allocating it from the shared
// counter on first use. Ids are never reused within the store's lifetime.
func (r *Registry) ConnID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id != "" {
		return r.id, nil
	}
	n, err := r.store.Incr(ctx, CounterKey(r.prefix))
	if err != nil {
		return "", err
	}
	r.id = strconv.FormatInt(n, 10)
	return r.id, nil
}

// SetTag binds tag to this connection, replacing any previous tag. Both
// mapping directions are written in one batched store operation.
func (r *Registry) SetTag(ctx context.Context, tag string) error {
	if tag == "" {
		return ErrEmptyTag
	}
	id, err := r.ConnID(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tag != "" {
		if err := r.removeLocked(ctx, id); err != nil {
			return err
		}
	}
	err = r.store.HSetBatch(ctx, []store.HashEntry{
		{Key: IDToTagKey(r.prefix), Field: id, Value: tag},
		{Key: TagToIDKey(r.prefix), Field: tag, Value: id},
	})
	if err != nil {
		return err
	}
	r.tag = tag
	r.tagLoaded = true
	return nil
}

// Tag returns this connection's tag, empty if none is bound. The store is
// consulted at most once until the cache is invalidated by SetTag or
// RemoveTag.
func (r *Registry) Tag(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tagLoaded {
		return r.tag, nil
	}
	if r.id == "" {
		return "", nil
	}
	tag, _, err := r.store.HGet(ctx, IDToTagKey(r.prefix), r.id)
	if err != nil {
		return "", err
	}
	r.tag = tag
	r.tagLoaded = true
	return tag, nil
}

// RemoveTag deletes both directions of the mapping in one batched store
// operation. It is idempotent and a no-op when no id was ever assigned.
func (r *Registry) RemoveTag(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id == "" {
		return nil
	}
	return r.removeLocked(ctx, r.id)
}

func (r *Registry) removeLocked(ctx context.Context, id string) error {
	tag := r.tag
	if !r.tagLoaded {
		v, _, err := r.store.HGet(ctx, IDToTagKey(r.prefix), id)
		if err != nil {
			return err
		}
		tag = v
	}
	if tag == "" {
		r.tag = ""
		r.tagLoaded = true
		return nil
	}
	err := r.store.HDelBatch(ctx, []store.HashField{
		{Key: IDToTagKey(r.prefix), Field: id},
		{Key: TagToIDKey(r.prefix), Field: tag},
	})
	if err != nil {
		return err
	}
	r.tag = ""
	r.tagLoaded = true
	return nil
}
