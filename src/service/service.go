// Package service addresses live connections from the outside, by tag or
// by connection id, without holding a reference to them.
package service

import (
	"context"
	"fmt"

	"github.com/pulsegate/socket/src/registry"
	"github.com/pulsegate/socket/src/store"
	"github.com/pulsegate/socket/src/subscriber"
	"github.com/rs/zerolog"
)

// Service resolves tags through the shared mapping and publishes onto a
// connection's private channel. Delivery is performed by the connection's
// own broadcast subscriber, wherever it runs.
type Service struct {
	store  store.Store
	prefix string
	logger zerolog.Logger
}

// New creates a service over the shared store.
func New(st store.Store, prefix string, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		prefix: prefix,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// ResolveTag returns the connection id currently bound to tag.
func (s *Service) ResolveTag(ctx context.Context, tag string) (string, error) {
	id, ok, err := s.store.HGet(ctx, registry.TagToIDKey(s.prefix), tag)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("tag %q not bound", tag)
	}
	return id, nil
}

// PushToConn publishes payload on the private channel of connection id.
func (s *Service) PushToConn(ctx context.Context, id, payload string) error {
	return s.store.Publish(ctx, registry.ChannelFor(s.prefix, id), payload)
}

// PushToTag resolves tag and publishes payload to its connection.
func (s *Service) PushToTag(ctx context.Context, tag, payload string) error {
	id, err := s.ResolveTag(ctx, tag)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("tag", tag).Str("conn_id", id).Msg("push")
	return s.PushToConn(ctx, id, payload)
}

// KickConn asks connection id to close by publishing the terminate
// sentinel on its channel.
func (s *Service) KickConn(ctx context.Context, id string) error {
	return s.store.Publish(ctx, registry.ChannelFor(s.prefix, id), subscriber.Terminate)
}

// Kick resolves tag and asks its connection to close.
func (s *Service) Kick(ctx context.Context, tag string) error {
	id, err := s.ResolveTag(ctx, tag)
	if err != nil {
		return err
	}
	s.logger.Info().Str("tag", tag).Str("conn_id", id).Msg("kick")
	return s.KickConn(ctx, id)
}
