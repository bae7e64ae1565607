package config

import (
	"fmt"
	"time"
)

// Server is the configuration for `sowback listen`.
type Server struct {
	ListenAddr       string        `toml:"listen_addr"`
	BindHost         string        `toml:"bind_host"`
	Token            string        `toml:"token"`
	MaxClients       int           `toml:"max_clients"`
	Name             string        `toml:"name"`
	LogFile          string        `toml:"log_file"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout"`
}

// ApplyDefaults fills in zero-valued fields with their defaults. Token is
// deliberately never defaulted: an empty token must fail Validate.
func (s *Server) ApplyDefaults() {
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.BindHost == "" {
		s.BindHost = DefaultBindHost
	}
	if s.MaxClients == 0 {
		s.MaxClients = DefaultMaxClients
	}
	if s.HeartbeatTimeout == 0 {
		s.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
}

// Validate checks the fields a config file alone cannot guarantee, namely
// that a token was actually supplied and max_clients is not negative.
func (s *Server) Validate() error {
	if s.Token == "" {
		return fmt.Errorf("config: token is required")
	}
	if s.MaxClients < 0 {
		return fmt.Errorf("config: max_clients cannot be negative")
	}
	return nil
}
