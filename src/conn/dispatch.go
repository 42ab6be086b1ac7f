package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pulsegate/socket/config"
	"github.com/pulsegate/socket/src/types"
)

// CorrelationField is the reserved reply field carrying the request's
// correlation id.
const CorrelationField = "__id"

const actionField = "action"

// errBadSerialization marks a misconfigured message format. Unlike a
// malformed message it is fatal for the connection.
var errBadSerialization = errors.New("unsupported serialization format")

// decodeEnvelope parses a complete frame into a request envelope. Only
// JSON objects on text frames are supported; anything else is a decode
// error for that message.
func decodeEnvelope(payload []byte, ft types.FrameType, format string) (*types.Envelope, error) {
	if format != config.SerializationJSON {
		return nil, fmt.Errorf("%w %q", errBadSerialization, format)
	}
	if ft != types.FrameText {
		return nil, fmt.Errorf("unsupported frame type %s for messages", ft)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("message is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, errors.New("message is not a JSON object")
	}

	env := &types.Envelope{Fields: fields}
	raw, ok := fields[actionField]
	if !ok {
		return nil, errors.New("message has no action")
	}
	if err := json.Unmarshal(raw, &env.Action); err != nil {
		return nil, fmt.Errorf("action is not a string: %w", err)
	}
	if id, ok := fields[CorrelationField]; ok {
		env.ID = id
	}
	return env, nil
}

// handleMessage decodes one complete frame, runs its action, and sends a
// correlated reply when the reply policy calls for one. Errors are
// message-fatal only, except errBadSerialization.
func (c *Conn) handleMessage(ctx context.Context, payload []byte, ft types.FrameType) error {
	env, err := decodeEnvelope(payload, ft, c.cfg.Serialization)
	if err != nil {
		return err
	}

	result, err := c.runner.RunAction(ctx, env.Action, env)
	if err != nil {
		return fmt.Errorf("action %s: %w", env.Action, err)
	}
	if result == nil {
		return nil
	}
	obj, ok := result.(map[string]any)
	if !ok {
		c.logger.Warn().Str("action", env.Action).Msg("handler returned a non-object result, dropping")
		return nil
	}
	if env.ID == nil {
		c.logger.Debug().Str("action", env.Action).Msg("handler result unused, request had no correlation id")
		return nil
	}

	reply := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		reply[k] = v
	}
	reply[CorrelationField] = env.ID

	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply for %s: %w", env.Action, err)
	}
	t := c.liveTransport()
	if t == nil {
		return fmt.Errorf("reply for %s: %w", env.Action, types.ErrTransportClosed)
	}
	if err := t.SendText(data); err != nil {
		return fmt.Errorf("send reply for %s: %w", env.Action, err)
	}
	return nil
}
