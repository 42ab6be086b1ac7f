// Package conn owns the lifecycle of one accepted connection: it
// authenticates the upgrade, drives the receive loop, and supervises the
// broadcast subscriber.
package conn

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulsegate/socket/config"
	"github.com/pulsegate/socket/src/registry"
	"github.com/pulsegate/socket/src/session"
	"github.com/pulsegate/socket/src/store"
	"github.com/pulsegate/socket/src/subscriber"
	"github.com/pulsegate/socket/src/types"
	"github.com/rs/zerolog"
)

// State is a connection lifecycle stage. Transitions run strictly forward;
// Closed is terminal.
type State int

const (
	StateAuthenticating State = iota
	StateReady
	StateLooping
	StateClosing
	StateClosed
)

// tokenPattern extracts the auth token from the designated header's first
// value, e.g. "bearer, <token>".
var tokenPattern = regexp.MustCompile(`^bearer,\s*(\S+)$`)

// Conn is one accepted connection. Create it with New, call Authenticate
// with the pre-upgrade request state, then Run with the upgraded
// transport.
type Conn struct {
	cfg      *config.SocketConfig
	store    store.Store
	sessions *session.Sessions
	registry *registry.Registry
	runner   types.ActionRunner
	hooks    Hooks
	logger   zerolog.Logger
	uid      string

	mu        sync.Mutex
	state     State
	transport types.Transport
	channel   string
	session   *session.Session
	sub       *subscriber.Subscriber
	frames    reassembler
}

// New creates a connection in the Authenticating state. The uid tags this
// connection's log events before a store id exists.
func New(cfg *config.SocketConfig, st store.Store, sessions *session.Sessions, runner types.ActionRunner, hooks Hooks, logger zerolog.Logger) *Conn {
	if hooks == nil {
		hooks = NopHooks{}
	}
	uid := uuid.NewString()
	l := logger.With().Str("component", "conn").Str("conn_uid", uid).Logger()
	return &Conn{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		registry: registry.New(st, cfg.KeyPrefix, l),
		runner:   runner,
		hooks:    hooks,
		logger:   l,
		uid:      uid,
	}
}

// State returns the current lifecycle stage.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the connection id, allocating it on first use.
func (c *Conn) ID(ctx context.Context) (string, error) { return c.registry.ConnID(ctx) }

// SetTag binds a client-visible tag to this connection.
func (c *Conn) SetTag(ctx context.Context, tag string) error { return c.registry.SetTag(ctx, tag) }

// Tag returns the bound tag, empty if none.
func (c *Conn) Tag(ctx context.Context) (string, error) { return c.registry.Tag(ctx) }

// RemoveTag unbinds the tag, if any.
func (c *Conn) RemoveTag(ctx context.Context) error { return c.registry.RemoveTag(ctx) }

// Session returns the session opened during authentication, nil before it.
func (c *Conn) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Channel returns the private broadcast channel name, empty before
// authentication.
func (c *Conn) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Authenticate validates the pre-upgrade request, opens the session, binds
// the connection id into it, and derives the private broadcast channel.
// Any error is fatal for the connection: the upgrade must be aborted and
// no partial connection exists.
func (c *Conn) Authenticate(ctx context.Context, req *types.Request) (err error) {
	defer c.boundary("authenticate", &err)

	if req.HeadersSent {
		return errors.New("response headers already sent before upgrade")
	}
	if len(req.AuthHeader) == 0 {
		return fmt.Errorf("missing %s header", c.cfg.AuthHeader)
	}
	// Multiple header values: the first one carries the token.
	m := tokenPattern.FindStringSubmatch(req.AuthHeader[0])
	if m == nil {
		return fmt.Errorf("header %s does not match the token pattern", c.cfg.AuthHeader)
	}
	token := m[1]

	sid := c.hooks.SessionID(token)
	sess, err := c.sessions.Open(ctx, sid)
	if err != nil {
		return fmt.Errorf("open session %q: %w", sid, err)
	}
	id, err := c.registry.ConnID(ctx)
	if err != nil {
		return fmt.Errorf("allocate connection id: %w", err)
	}
	sess.SetConnectID(id)
	sess.SetKeepAlive(true)
	if err := sess.Save(ctx); err != nil {
		return fmt.Errorf("save session %q: %w", sid, err)
	}

	c.mu.Lock()
	c.session = sess
	c.channel = registry.ChannelFor(c.cfg.KeyPrefix, id)
	c.mu.Unlock()
	c.logger = c.logger.With().Str("conn_id", id).Logger()
	c.logger.Info().Str("session_id", sid).Msg("connection authenticated")
	return nil
}

// Run drives the connection on t from Ready until Closed. It returns a
// non-nil error only when the connection failed internally, in which case
// the caller should surface an internal server error.
func (c *Conn) Run(ctx context.Context, t types.Transport) (err error) {
	defer c.boundary("run", &err)

	c.mu.Lock()
	if c.channel == "" {
		c.mu.Unlock()
		return errors.New("connection not authenticated")
	}
	c.transport = t
	c.state = StateReady
	c.sub = subscriber.New(c.store, c.channel, transportGuard{c}, c.cfg.MaxSubscribeRetries, c.logger)
	c.mu.Unlock()

	c.hooks.BeforeReady(ctx, c)
	c.sub.Start(ctx)
	c.hooks.AfterReady(ctx, c)

	c.setState(StateLooping)
	c.loop(ctx)
	c.shutdown(ctx)
	return nil
}

// loop pulls frames through the reassembler and routes them until the
// client closes, a fatal receive error occurs, or the message format turns
// out to be misconfigured.
func (c *Conn) loop(ctx context.Context) {
	t := c.liveTransport()
	for {
		payload, ft, err := t.ReceiveFrame(c.cfg.IdleTimeout)
		if err != nil {
			if errors.Is(err, types.ErrReceiveAgain) {
				continue
			}
			c.logger.Error().Err(err).Msg("receive failed")
			return
		}

		full, done := c.frames.push(payload, ft)
		if !done {
			continue
		}

		switch ft {
		case types.FrameClose:
			c.logger.Info().Msg("close frame received")
			return
		case types.FramePing:
			if err := t.SendPong(); err != nil {
				c.logger.Warn().Err(err).Msg("pong send failed")
			}
		case types.FramePong:
			// no-op
		case types.FrameText, types.FrameBinary:
			if err := c.handleMessage(ctx, full, ft); err != nil {
				if errors.Is(err, errBadSerialization) {
					c.logger.Error().Err(err).Msg("serialization misconfigured")
					return
				}
				c.logger.Error().Err(err).Msg("message dropped")
			}
		default:
			c.logger.Warn().Stringer("frame_type", ft).Msg("unsupported frame type")
		}
	}
}

// shutdown runs the Closing sequence: stop the subscriber, remove the tag
// mapping, close and release the transport.
func (c *Conn) shutdown(ctx context.Context) {
	c.setState(StateClosing)

	c.sub.Stop(ctx)
	c.hooks.BeforeClose(ctx, c)

	if err := c.registry.RemoveTag(ctx); err != nil {
		c.logger.Error().Err(err).Msg("tag cleanup failed")
	}

	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()
	if t != nil {
		if err := t.SendClose(); err != nil {
			c.logger.Debug().Err(err).Msg("close send failed")
		}
	}

	c.hooks.AfterClose(ctx, c)
	c.setState(StateClosed)
	c.logger.Info().Msg("connection closed")
}

// boundary is the top-level fault boundary: any panic below it becomes a
// generic internal error, with a stack trace at debug level.
func (c *Conn) boundary(stage string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	ev := c.logger.Error().Str("stage", stage).Any("panic", r)
	if c.logger.GetLevel() <= zerolog.DebugLevel {
		ev = ev.Bytes("stack", debug.Stack())
	}
	ev.Msg("connection fault")
	*err = fmt.Errorf("internal error in %s: %v", stage, r)
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) liveTransport() types.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// transportGuard is the transport view handed to the subscriber. Sends
// fail with ErrTransportClosed once the lifecycle has released the real
// transport, which the subscriber treats as terminal.
type transportGuard struct{ c *Conn }

func (g transportGuard) ReceiveFrame(timeout time.Duration) ([]byte, types.FrameType, error) {
	t := g.c.liveTransport()
	if t == nil {
		return nil, 0, types.ErrTransportClosed
	}
	return t.ReceiveFrame(timeout)
}

func (g transportGuard) SendText(payload []byte) error {
	t := g.c.liveTransport()
	if t == nil {
		return types.ErrTransportClosed
	}
	return t.SendText(payload)
}

func (g transportGuard) SendPong() error {
	t := g.c.liveTransport()
	if t == nil {
		return types.ErrTransportClosed
	}
	return t.SendPong()
}

func (g transportGuard) SendClose() error {
	t := g.c.liveTransport()
	if t == nil {
		return types.ErrTransportClosed
	}
	return t.SendClose()
}
