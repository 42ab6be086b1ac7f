// Package providers wires the connection lifecycle to the HTTP edge: a
// raw fasthttp upgrade handler plus Fiber routes for the non-upgrade
// surface.
package providers

import (
	"context"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/pulsegate/socket/config"
	"github.com/pulsegate/socket/src/actions"
	"github.com/pulsegate/socket/src/conn"
	"github.com/pulsegate/socket/src/service"
	"github.com/pulsegate/socket/src/session"
	"github.com/pulsegate/socket/src/store"
	"github.com/pulsegate/socket/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Gateway accepts WebSocket connections and runs their lifecycle.
type Gateway struct {
	cfg      *config.SocketConfig
	store    store.Store
	sessions *session.Sessions
	actions  *actions.Registry
	hooks    conn.Hooks
	svc      *service.Service
	logger   zerolog.Logger
}

// NewGateway creates a gateway. A nil hooks installs the no-op defaults.
func NewGateway(cfg *config.SocketConfig, st store.Store, reg *actions.Registry, hooks conn.Hooks, logger zerolog.Logger) *Gateway {
	if hooks == nil {
		hooks = conn.NopHooks{}
	}
	return &Gateway{
		cfg:      cfg,
		store:    st,
		sessions: session.New(st, cfg.KeyPrefix, cfg.SessionTTL, logger),
		actions:  reg,
		hooks:    hooks,
		svc:      service.New(st, cfg.KeyPrefix, logger),
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// Service returns the outside-in addressing API.
func (g *Gateway) Service() *service.Service { return g.svc }

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Register this on the fasthttp server at the "/ws" path.
func (g *Gateway) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		// The handshake requires the body to be consumed before upgrading.
		req := &types.Request{
			AuthHeader: headerValues(&ctx.Request.Header, g.cfg.AuthHeader),
			Body:       append([]byte(nil), ctx.PostBody()...),
		}

		cn := conn.New(g.cfg, g.store, g.sessions, g.actions.Runner(), g.hooks, g.logger)
		if err := cn.Authenticate(ctx, req); err != nil {
			g.logger.Error().Err(err).Msg("authentication failed")
			internalError(ctx)
			return
		}

		err := upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
			ws.SetReadLimit(g.cfg.MaxPayloadBytes)
			if err := cn.Run(context.Background(), newWSTransport(ws)); err != nil {
				g.logger.Error().Err(err).Msg("connection terminated with internal error")
			}
		})
		if err != nil {
			g.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

func internalError(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetBodyString(`{"error":"internal_error"}`)
}

func headerValues(h *fasthttp.RequestHeader, name string) []string {
	raw := h.PeekAll(name)
	vals := make([]string, 0, len(raw))
	for _, v := range raw {
		vals = append(vals, string(v))
	}
	return vals
}
