// Package actions provides the default dispatch table for application
// actions.
package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulsegate/socket/src/types"
)

// Handler processes one request envelope. A nil result means no reply.
type Handler interface {
	Handle(ctx context.Context, env *types.Envelope) (any, error)
}

// Factory builds a handler instance. A runner builds one instance per
// action and reuses it for every message on its connection, so handlers
// may keep per-connection state.
type Factory func() Handler

// Registry is the shared table of action factories. Register all actions
// at startup, then hand each connection its own Runner.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds an action name to a handler factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Func wraps a stateless function as a handler factory.
func Func(f func(ctx context.Context, env *types.Envelope) (any, error)) Factory {
	return func() Handler { return funcHandler(f) }
}

type funcHandler func(ctx context.Context, env *types.Envelope) (any, error)

func (h funcHandler) Handle(ctx context.Context, env *types.Envelope) (any, error) {
	return h(ctx, env)
}

// Runner returns a per-connection action runner over this registry.
func (r *Registry) Runner() *Runner {
	return &Runner{registry: r, instances: make(map[string]Handler)}
}

// Runner executes actions with durable per-connection handler instances.
// It is used from a single connection goroutine and needs no locking of
// its instance map.
type Runner struct {
	registry  *Registry
	instances map[string]Handler
}

// RunAction runs the named action. A handler panic is caught and reported
// as an ordinary dispatch error; it never takes the connection down.
func (r *Runner) RunAction(ctx context.Context, name string, env *types.Envelope) (result any, err error) {
	r.registry.mu.RLock()
	factory, ok := r.registry.factories[name]
	r.registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}

	h, ok := r.instances[name]
	if !ok {
		h = factory()
		r.instances[name] = h
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("action %s panicked: %v", name, p)
		}
	}()
	return h.Handle(ctx, env)
}
