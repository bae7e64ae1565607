package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sowback/sowback/config"
	"github.com/sowback/sowback/cryptox"
	"github.com/sowback/sowback/protocol"
	"github.com/sowback/sowback/registry"
)

// dialLocalTimeout bounds how long the client waits to connect to a
// registered local service when answering a NewConnection message.
const dialLocalTimeout = 10 * time.Second

// authTimeout bounds the Auth/AuthResponse round trip.
const authTimeout = 10 * time.Second

// session is one authenticated, registered connection to a single server.
// Its lifetime is Authenticating -> Registering -> Serving; dialing and
// reconnect backoff are the Client's job, not the session's.
type session struct {
	cfg    *config.Client
	conn   net.Conn
	logger zerolog.Logger

	clientID   string
	sessionKey []byte

	writeMu sync.Mutex

	// services maps the proxy_id the server assigned at registration
	// back to the local service it exposes, so NewConnection can find
	// where to dial.
	services map[string]config.ServiceConfig

	connections *registry.Registry[string, *Connection]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	servingReached atomic.Bool
}

func newSession(cfg *config.Client, conn net.Conn, logger zerolog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		cfg:         cfg,
		conn:        conn,
		logger:      logger,
		services:    make(map[string]config.ServiceConfig),
		connections: registry.New[string, *Connection](),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// run authenticates, registers every configured service, then serves the
// session until the control connection fails or ctx is cancelled. It
// returns once the session is fully torn down.
func (s *session) run(ctx context.Context) error {
	defer s.teardown()

	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	if err := s.authenticate(); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	s.logger.Info().Str("client_id", s.clientID).Msg("authenticated")

	services, err := parseServices(s.cfg.Services)
	if err != nil {
		return fmt.Errorf("parse services: %w", err)
	}
	s.registerServices(services)

	s.servingReached.Store(true)
	s.wg.Add(1)
	go s.heartbeatLoop()

	return s.readLoop()
}

// reachedServing reports whether this session made it to the Serving state
// before ending, so the caller's reconnect backoff can tell a session that
// actually served traffic apart from one that failed during dialing or
// authentication (e.g. a persistently rejected token).
func (s *session) reachedServing() bool {
	return s.servingReached.Load()
}

func parseServices(raw []string) ([]config.ServiceConfig, error) {
	services := make([]config.ServiceConfig, 0, len(raw))
	for _, r := range raw {
		svc, err := config.ParseServiceConfig(r)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func (s *session) authenticate() error {
	clientID := config.GenerateClientID()

	s.conn.SetDeadline(time.Now().Add(authTimeout))
	defer s.conn.SetDeadline(time.Time{})

	if err := protocol.WriteAuth(s.conn, s.cfg.Token, clientID); err != nil {
		return fmt.Errorf("write auth: %w", err)
	}

	payload, err := protocol.ReadTypedMessage(s.conn, protocol.MsgTypeAuthResponse)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	resp, err := protocol.DecodeAuthResponse(payload)
	if err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("server rejected auth: %s", resp.Error)
	}

	localKey, err := cryptox.DeriveSessionKey([]byte(s.cfg.Token), clientID)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}
	if len(resp.SessionKey) > 0 && !cryptox.TokensEqual(localKey, resp.SessionKey) {
		return fmt.Errorf("session key mismatch with server")
	}

	s.clientID = clientID
	s.sessionKey = localKey
	return nil
}

// registerServices sends a ProxyConfig for each configured service. A
// single service failing to register (e.g. its remote_port is already
// taken) does not abort the session; the client logs it and continues
// serving the services that did register.
func (s *session) registerServices(services []config.ServiceConfig) {
	for _, svc := range services {
		if err := s.writeMessage(func(w net.Conn) error {
			return protocol.WriteProxyConfig(w, svc.LocalIP, svc.LocalPort, svc.RemotePort)
		}); err != nil {
			s.logger.Error().Err(err).Str("service", svc.Name).Msg("failed to send proxy config")
			continue
		}

		payload, err := protocol.ReadTypedMessage(s.conn, protocol.MsgTypeProxyConfigResponse)
		if err != nil {
			s.logger.Error().Err(err).Str("service", svc.Name).Msg("failed to read proxy config response")
			continue
		}
		resp, err := protocol.DecodeProxyConfigResponse(payload)
		if err != nil {
			s.logger.Error().Err(err).Str("service", svc.Name).Msg("failed to decode proxy config response")
			continue
		}
		if !resp.Success {
			s.logger.Error().Str("service", svc.Name).Str("error", resp.Error).Msg("server rejected service registration")
			continue
		}

		s.services[resp.ProxyID] = svc
		s.logger.Info().
			Str("service", svc.Name).
			Str("proxy_id", resp.ProxyID).
			Uint16("remote_port", svc.RemotePort).
			Msg("service registered")
	}
}

// readLoop decodes every frame centrally so a decode failure always ends
// the session (spec: decode errors admit no partial acceptance). Only
// handleData can still fail the session past that point, when the
// payload fails to authenticate and decrypt.
func (s *session) readLoop() error {
	for {
		msgType, payload, err := protocol.ReadMessage(s.conn)
		if err != nil {
			return err
		}

		switch msgType {
		case protocol.MsgTypeNewConnection:
			msg, err := protocol.DecodeNewConnection(payload)
			if err != nil {
				return fmt.Errorf("decode new connection: %w", err)
			}
			s.handleNewConnection(msg)
		case protocol.MsgTypeData:
			msg, err := protocol.DecodeData(payload)
			if err != nil {
				return fmt.Errorf("decode data: %w", err)
			}
			if err := s.handleData(msg); err != nil {
				return fmt.Errorf("data for connection %s: %w", msg.ConnectionID, err)
			}
		case protocol.MsgTypeCloseConnection:
			msg, err := protocol.DecodeCloseConnection(payload)
			if err != nil {
				return fmt.Errorf("decode close connection: %w", err)
			}
			s.handleCloseConnection(msg)
		case protocol.MsgTypeHeartbeatResponse:
			// nothing to do; the heartbeat loop does not track acks
		default:
			s.logger.Warn().Uint8("type", msgType).Msg("unexpected message type, ignoring")
		}
	}
}

func (s *session) handleNewConnection(msg protocol.NewConnectionMsg) {
	svc, ok := s.services[msg.ProxyID]
	if !ok {
		s.logger.Warn().Str("proxy_id", msg.ProxyID).Msg("new connection for unknown proxy_id, rejecting")
		_ = s.writeMessage(func(w net.Conn) error {
			return protocol.WriteConnectionResponse(w, msg.ConnectionID, false, "unknown proxy_id")
		})
		return
	}

	logger := s.logger.With().Str("connection_id", msg.ConnectionID).Str("service", svc.Name).Logger()

	addr := fmt.Sprintf("%s:%d", svc.LocalIP, svc.LocalPort)
	conn, err := net.DialTimeout("tcp", addr, dialLocalTimeout)
	if err != nil {
		logger.Warn().Err(err).Str("local_addr", addr).Msg("dial local service failed")
		_ = s.writeMessage(func(w net.Conn) error {
			return protocol.WriteConnectionResponse(w, msg.ConnectionID, false, err.Error())
		})
		return
	}

	c := NewConnection(msg.ConnectionID, conn)
	if err := s.connections.Insert(msg.ConnectionID, c); err != nil {
		logger.Debug().Err(err).Msg("duplicate connection_id, dropping")
		conn.Close()
		return
	}

	if err := s.writeMessage(func(w net.Conn) error {
		return protocol.WriteConnectionResponse(w, msg.ConnectionID, true, "")
	}); err != nil {
		logger.Debug().Err(err).Msg("failed to write connection response")
		s.connections.Remove(msg.ConnectionID)
		c.Close()
		return
	}

	logger.Info().Str("local_addr", addr).Msg("tunneled connection established")

	s.wg.Add(1)
	go s.pumpConnection(c)
}

func (s *session) pumpConnection(c *Connection) {
	defer s.wg.Done()

	err := protocol.PumpToControl(s.conn, &s.writeMu, c.ID, c.conn, s.sealFunc())
	if err != nil {
		s.logger.Debug().Err(err).Str("connection_id", c.ID).Msg("pump from local connection ended")
	}

	_, stillPresent := s.connections.Remove(c.ID)
	if stillPresent {
		_ = s.writeMessage(func(w net.Conn) error {
			return protocol.WriteCloseConnection(w, c.ID)
		})
	}
	c.Close()
}

// handleData delivers one Data payload to its tunneled connection. A
// failure to authenticate and decrypt the payload is fatal to the whole
// session (returned to readLoop); a failure writing the opened bytes to
// the local socket tears down only that one connection: the registry
// entry is removed, the socket is closed, and the peer is told via
// CloseConnection.
func (s *session) handleData(msg protocol.DataMsg) error {
	c, ok := s.connections.Get(msg.ConnectionID)
	if !ok {
		s.logger.Warn().Str("connection_id", msg.ConnectionID).Msg("data for unknown connection_id, dropping")
		return nil
	}

	err := protocol.DeliverData(c.conn, msg.Data, s.openFunc())
	if err == nil {
		return nil
	}

	var openErr *protocol.OpenError
	if errors.As(err, &openErr) {
		return err
	}

	s.logger.Debug().Err(err).Str("connection_id", msg.ConnectionID).Msg("write to local connection failed")
	if _, stillPresent := s.connections.Remove(msg.ConnectionID); stillPresent {
		_ = s.writeMessage(func(w net.Conn) error {
			return protocol.WriteCloseConnection(w, msg.ConnectionID)
		})
	}
	c.Close()
	return nil
}

func (s *session) handleCloseConnection(msg protocol.CloseConnectionMsg) {
	if c, ok := s.connections.Remove(msg.ConnectionID); ok {
		c.Close()
	}
}

func (s *session) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			err := s.writeMessage(func(w net.Conn) error {
				return protocol.WriteHeartbeat(w, uint64(time.Now().Unix()))
			})
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to send heartbeat")
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) writeMessage(fn func(net.Conn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.conn)
}

func (s *session) sealFunc() protocol.SealFunc {
	if s.sessionKey == nil {
		return nil
	}
	return func(b []byte) ([]byte, error) { return cryptox.Seal(s.sessionKey, b) }
}

func (s *session) openFunc() protocol.OpenFunc {
	if s.sessionKey == nil {
		return nil
	}
	return func(b []byte) ([]byte, error) { return cryptox.Open(s.sessionKey, b) }
}

func (s *session) teardown() {
	s.cancel()
	for _, c := range s.connections.Snapshot() {
		c.Close()
	}
	s.wg.Wait()
	s.conn.Close()
}
