package conn

import "context"

// Hooks are the lifecycle extension points. They run synchronously on the
// connection goroutine and may mutate connection state. Embed NopHooks to
// implement a subset.
type Hooks interface {
	// SessionID converts the authenticated token into a session id.
	SessionID(token string) string
	// BeforeReady runs after authentication, before the subscriber starts.
	BeforeReady(ctx context.Context, c *Conn)
	// AfterReady runs once the subscriber is up, before the event loop.
	AfterReady(ctx context.Context, c *Conn)
	// BeforeClose runs during teardown, before the tag mapping is removed.
	BeforeClose(ctx context.Context, c *Conn)
	// AfterClose runs after the transport has been released.
	AfterClose(ctx context.Context, c *Conn)
}

// NopHooks implements Hooks with identity token conversion and no-op
// callbacks.
type NopHooks struct{}

func (NopHooks) SessionID(token string) string      { return token }
func (NopHooks) BeforeReady(context.Context, *Conn) {}
func (NopHooks) AfterReady(context.Context, *Conn)  {}
func (NopHooks) BeforeClose(context.Context, *Conn) {}
func (NopHooks) AfterClose(context.Context, *Conn)  {}
