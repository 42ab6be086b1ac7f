// Package subscriber runs the background broadcast loop for one
// connection's private channel.
package subscriber

import (
	"context"
	"errors"
	"sync"

	"github.com/pulsegate/socket/src/store"
	"github.com/pulsegate/socket/src/types"
	"github.com/rs/zerolog"
)

// Terminate is the sentinel payload that tells a subscriber to close its
// connection and exit without retrying.
const Terminate = "__terminate__"

var errSubscriptionLost = errors.New("subscription ended unexpectedly")

// Subscriber forwards payloads published on a connection's private channel
// to its transport. At most one loop runs per connection. An abnormal loop
// exit is retried up to maxRetries times, then the subscriber gives up
// permanently.
type Subscriber struct {
	store      store.Store
	channel    string
	transport  types.Transport
	maxRetries int
	logger     zerolog.Logger

	mu      sync.Mutex
	enabled bool
	retries int
	wg      sync.WaitGroup
}

// New creates a subscriber for channel, delivering to t.
func New(st store.Store, channel string, t types.Transport, maxRetries int, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		store:      st,
		channel:    channel,
		transport:  t,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "subscriber").Str("channel", channel).Logger(),
	}
}

// Start launches the subscribe loop in its own goroutine. A second Start
// while a loop is running is a no-op. Starting after a clean stop begins a
// fresh retry budget.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		s.logger.Debug().Msg("subscriber already running")
		return
	}
	s.enabled = true
	s.retries = 0
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop publishes the terminate sentinel on the connection's channel using
// a short-lived command connection. Fire and forget: the running loop
// observes the sentinel and exits on its own.
func (s *Subscriber) Stop(ctx context.Context) {
	if err := s.store.Publish(ctx, s.channel, Terminate); err != nil {
		s.logger.Error().Err(err).Msg("publish terminate failed")
	}
}

// Running reports whether a subscribe loop is active.
func (s *Subscriber) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Wait blocks until the current loop has fully exited.
func (s *Subscriber) Wait() { s.wg.Wait() }

func (s *Subscriber) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.subscribeOnce(ctx)
		if err == nil {
			// Sentinel observed, clean exit.
			s.setEnabled(false)
			return
		}

		s.mu.Lock()
		if s.retries >= s.maxRetries {
			s.enabled = false
			s.mu.Unlock()
			s.logger.Error().Err(err).Int("attempts", s.maxRetries).Msg("subscribe loop giving up")
			return
		}
		s.retries++
		attempt := s.retries
		s.mu.Unlock()
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("subscribe loop ended, restarting")
	}
}

// subscribeOnce opens a dedicated subscription and consumes it until the
// sentinel arrives (nil return) or the subscription dies (error return).
func (s *Subscriber) subscribeOnce(ctx context.Context) error {
	sub, err := s.store.Subscribe(ctx, s.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	for msg := range sub.Messages() {
		if msg.Kind != store.KindMessage {
			continue
		}
		if msg.Payload == Terminate {
			if err := s.transport.SendClose(); err != nil && !errors.Is(err, types.ErrTransportClosed) {
				s.logger.Warn().Err(err).Msg("close send failed")
			}
			return nil
		}
		if err := s.transport.SendText([]byte(msg.Payload)); err != nil {
			s.logger.Warn().Err(err).Msg("broadcast forward failed")
		}
	}
	return errSubscriptionLost
}

func (s *Subscriber) setEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}
