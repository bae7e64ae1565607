package config

import (
	"time"

	"github.com/google/uuid"
)

// Default timeouts and intervals. These mirror the values the reference
// implementation ships with.
const (
	DefaultListenAddr = "0.0.0.0:7000"
	DefaultBindHost   = "0.0.0.0"
	DefaultMaxClients = 100

	// DefaultHeartbeatTimeout is how long the server waits without a
	// heartbeat before tearing down a session.
	DefaultHeartbeatTimeout = 60 * time.Second

	DefaultServerAddr        = "127.0.0.1:7000"
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultReconnectBaseDelay and DefaultReconnectMaxDelay bound the
	// client's exponential reconnect backoff.
	DefaultReconnectBaseDelay = 5 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
)

// GenerateClientID returns a fresh UUID to identify one client process.
// The client does not persist this across restarts; a new process gets a
// new identity.
func GenerateClientID() string {
	return uuid.New().String()
}
