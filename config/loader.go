package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadConfig reads a TOML configuration file and unmarshals it into T.
func LoadConfig[T any](path string) (*T, error) {
	var cfg T
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadServerConfig reads a listen-mode config file, if path is non-empty,
// applies defaults, and returns the result. Validation happens after CLI
// flag overrides are applied, so it is the caller's responsibility.
func LoadServerConfig(path string) (*Server, error) {
	var cfg *Server
	if path != "" {
		loaded, err := LoadConfig[Server](path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Server{}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadClientConfig reads a connect-mode config file, if path is non-empty,
// applies defaults, and returns the result. Validation happens after CLI
// flag overrides are applied, so it is the caller's responsibility.
func LoadClientConfig(path string) (*Client, error) {
	var cfg *Client
	if path != "" {
		loaded, err := LoadConfig[Client](path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Client{}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
