package config

import (
	"os"
	"strconv"
	"time"
)

// SerializationJSON is the only supported message serialization: JSON
// objects carried on text frames.
const SerializationJSON = "json"

// SocketConfig holds the connection runtime options.
type SocketConfig struct {
	IdleTimeout         time.Duration // per-receive timeout; a timeout is a poll, not an error
	MaxPayloadBytes     int64         // maximum inbound frame payload
	MaxSubscribeRetries int           // bounded restarts of the broadcast subscriber
	Serialization       string        // message format; only "json" is supported
	AuthHeader          string        // request header carrying the auth subprotocol
	KeyPrefix           string        // namespace for all shared-store keys and channels
	SessionTTL          time.Duration // session expiry, refreshed on access
}

// DefaultConfig returns the default socket configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		IdleTimeout:         30 * time.Second,
		MaxPayloadBytes:     1 << 20,
		MaxSubscribeRetries: 3,
		Serialization:       SerializationJSON,
		AuthHeader:          "Sec-WebSocket-Protocol",
		KeyPrefix:           "pulsegate:ws:",
		SessionTTL:          30 * time.Minute,
	}
}

// ConfigFromEnv loads socket configuration from environment variables.
// Falls back to defaults for any missing or unparsable values.
func ConfigFromEnv() *SocketConfig {
	cfg := DefaultConfig()

	if v := os.Getenv("SOCKET_IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SOCKET_MAX_PAYLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv("SOCKET_MAX_SUBSCRIBE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSubscribeRetries = n
		}
	}
	if v := os.Getenv("SOCKET_SERIALIZATION"); v != "" {
		cfg.Serialization = v
	}
	if v := os.Getenv("SOCKET_AUTH_HEADER"); v != "" {
		cfg.AuthHeader = v
	}
	if v := os.Getenv("SOCKET_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}
	if v := os.Getenv("SOCKET_SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}
	return cfg
}
