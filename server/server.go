package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sowback/sowback/config"
	"github.com/sowback/sowback/protocol"
	"github.com/sowback/sowback/registry"
)

// Server accepts client control connections, authenticates them, and runs
// one session per connected client.
type Server struct {
	config *config.Server
	logger zerolog.Logger

	listener net.Listener

	// portOwners enforces remote_port uniqueness across every session on
	// this server, not just within one client's proxies.
	portOwners *registry.Registry[uint16, string]

	clientCount atomic.Int64
}

// New creates a Server from conf. It does not bind a listener; call Start
// for that.
func New(conf *config.Server) (*Server, error) {
	conf.ApplyDefaults()

	logger := log.With().Str("com", "server").Logger()
	if conf.Name != "" {
		logger = logger.With().Str("name", conf.Name).Logger()
	}

	return &Server{
		config:     conf,
		logger:     logger,
		portOwners: registry.New[uint16, string](),
	}, nil
}

// Start binds the listen address and accepts client connections until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: setSocketOptions}
	ln, err := lc.Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln
	defer ln.Close()

	s.logger.Info().
		Str("listen_addr", s.config.ListenAddr).
		Int("max_clients", s.config.MaxClients).
		Msg("server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("accept failed")
			continue
		}

		if s.clientCount.Load() >= int64(s.config.MaxClients) {
			s.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("rejecting connection, max_clients reached")
			_ = protocol.WriteError(conn, "max_clients reached")
			conn.Close()
			continue
		}
		s.clientCount.Add(1)

		sess := newSession(s, conn)
		go sess.run()
	}
}
