package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Client is the configuration for `sowback connect`.
type Client struct {
	Servers  []string `toml:"servers"`
	Token    string   `toml:"token"`
	Services []string `toml:"services"`
	Name     string   `toml:"name"`
	LogFile  string   `toml:"log_file"`

	HeartbeatInterval  time.Duration `toml:"heartbeat_interval"`
	ReconnectBaseDelay time.Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `toml:"reconnect_max_delay"`
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Client) ApplyDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{DefaultServerAddr}
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
}

// Validate checks fields a config file alone cannot guarantee.
func (c *Client) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("config: token is required")
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server address is required")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("config: reconnect_max_delay must be >= reconnect_base_delay")
	}
	for _, s := range c.Services {
		if _, err := ParseServiceConfig(s); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ServiceConfig is one parsed entry from Services: a local service to
// expose through the tunnel and the remote_port to expose it on.
type ServiceConfig struct {
	Name       string
	LocalIP    string
	LocalPort  uint16
	RemotePort uint16
}

// ParseServiceConfig parses a "local_ip:local_port:remote_port" string.
func ParseServiceConfig(s string) (ServiceConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ServiceConfig{}, fmt.Errorf("invalid service format %q, expected local_ip:local_port:remote_port", s)
	}

	localPort, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("invalid local_port in %q: %w", s, err)
	}
	remotePort, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("invalid remote_port in %q: %w", s, err)
	}

	return ServiceConfig{
		Name:       s,
		LocalIP:    parts[0],
		LocalPort:  uint16(localPort),
		RemotePort: uint16(remotePort),
	}, nil
}
