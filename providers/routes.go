package providers

import (
	"github.com/gofiber/fiber/v3"
)

// RegisterRoutes registers the non-upgrade WebSocket routes via Fiber.
// The actual WebSocket upgrade uses FastHTTPHandler, registered at the
// app level since Fiber v3 does not expose *fasthttp.RequestCtx on
// upgrade paths.
func (g *Gateway) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", g.handleInfo)
	group.Post("/ws/tags/:tag/push", g.handlePush)
	group.Delete("/ws/tags/:tag", g.handleKick)
}

func (g *Gateway) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket":     true,
		"endpoint":      "/ws",
		"serialization": g.cfg.Serialization,
	})
}

// handlePush publishes the request body on the tagged connection's
// private channel.
func (g *Gateway) handlePush(c fiber.Ctx) error {
	tag := c.Params("tag")
	payload := append([]byte(nil), c.Body()...)
	if err := g.svc.PushToTag(c.RequestCtx(), tag, string(payload)); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"pushed": true, "tag": tag})
}

// handleKick asks the tagged connection to close.
func (g *Gateway) handleKick(c fiber.Ctx) error {
	tag := c.Params("tag")
	if err := g.svc.Kick(c.RequestCtx(), tag); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"kicked": true, "tag": tag})
}
