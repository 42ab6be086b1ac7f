package types

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// FrameType identifies a transport frame. Values follow RFC 6455 opcodes.
type FrameType int

const (
	FrameContinuation FrameType = 0
	FrameText         FrameType = 1
	FrameBinary       FrameType = 2
	FrameClose        FrameType = 8
	FramePing         FrameType = 9
	FramePong         FrameType = 10
)

func (t FrameType) String() string {
	switch t {
	case FrameContinuation:
		return "continuation"
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClose:
		return "close"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	}
	return "frame(" + strconv.Itoa(int(t)) + ")"
}

// ErrReceiveAgain reports that a receive timed out with no frame available.
// Callers treat it as a poll result and retry.
var ErrReceiveAgain = errors.New("receive again")

// ErrTransportClosed reports a send on a transport that has been released.
// It is terminal for the sender, never retried.
var ErrTransportClosed = errors.New("transport closed")

// Transport is the framed bidirectional transport a connection runs on.
// A FrameContinuation result means more fragments of the same logical
// message follow.
type Transport interface {
	ReceiveFrame(timeout time.Duration) ([]byte, FrameType, error)
	SendText(payload []byte) error
	SendPong() error
	SendClose() error
}

// Request carries the pre-upgrade HTTP state the lifecycle authenticates
// against. AuthHeader holds all values of the designated header.
type Request struct {
	HeadersSent bool
	AuthHeader  []string
	Body        []byte
}

// Envelope is a decoded client request. ID holds the correlation id exactly
// as it appeared on the wire, nil when the request carried none.
type Envelope struct {
	ID     json.RawMessage
	Action string
	Fields map[string]json.RawMessage
}

// Unmarshal decodes a named envelope field into v.
func (e *Envelope) Unmarshal(field string, v any) error {
	raw, ok := e.Fields[field]
	if !ok {
		return errors.New("envelope field " + field + " not present")
	}
	return json.Unmarshal(raw, v)
}

// ActionRunner executes application actions by name. A runner is bound to
// one connection for its lifetime, so implementations may keep
// per-connection handler state across calls.
type ActionRunner interface {
	RunAction(ctx context.Context, name string, env *Envelope) (any, error)
}
