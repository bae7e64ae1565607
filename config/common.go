// Package config defines the TOML-backed configuration for both the
// listen (server) and connect (client) subcommands.
package config

// EnvPrefix prefixes environment variable overrides for CLI flags, e.g.
// SOWBACK_CONFIG for --config.
const EnvPrefix = "SOWBACK_"
