package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sowback/sowback/cryptox"
	"github.com/sowback/sowback/protocol"
	"github.com/sowback/sowback/registry"
)

// connectionResponseTimeout bounds how long the server waits for the
// client to dial its local service and answer a NewConnection message.
const connectionResponseTimeout = 10 * time.Second

// session owns one client's control connection: the AwaitAuth -> Ready
// state machine, its registered proxies, and its tunneled connections.
type session struct {
	srv    *Server
	conn   net.Conn
	logger zerolog.Logger

	clientID   string
	clientName string
	sessionKey []byte

	writeMu sync.Mutex

	proxies     *registry.Registry[string, *Proxy]
	connections *registry.Registry[string, *Connection]

	lastHeartbeat atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSession(srv *Server, conn net.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		srv:         srv,
		conn:        conn,
		logger:      srv.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		proxies:     registry.New[string, *Proxy](),
		connections: registry.New[string, *Connection](),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.lastHeartbeat.Store(time.Now().UnixNano())
	return s
}

// run drives the session until the control connection fails, the client
// closes it, or the heartbeat timeout fires. It always cleans up every
// proxy and connection the session owns before returning.
func (s *session) run() {
	defer s.teardown()

	if err := s.handleAuth(); err != nil {
		s.logger.Warn().Err(err).Msg("authentication failed")
		return
	}

	s.logger = s.logger.With().Str("client_id", s.clientID).Logger()
	s.logger.Info().Str("name", s.clientName).Msg("client authenticated")

	s.wg.Add(1)
	go s.heartbeatMonitor()

	if err := s.readLoop(); err != nil {
		s.logger.Debug().Err(err).Msg("session ended")
	}
}

func (s *session) handleAuth() error {
	s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer s.conn.SetReadDeadline(time.Time{})

	payload, err := protocol.ReadTypedMessage(s.conn, protocol.MsgTypeAuth)
	if err != nil {
		return fmt.Errorf("read auth: %w", err)
	}
	msg, err := protocol.DecodeAuth(payload)
	if err != nil {
		return fmt.Errorf("decode auth: %w", err)
	}

	if !cryptox.TokensEqual([]byte(s.srv.config.Token), []byte(msg.Token)) {
		_ = protocol.WriteAuthResponse(s.conn, false, nil, "invalid token")
		return fmt.Errorf("invalid token from client %s", msg.ClientID)
	}

	clientID := msg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	key, err := cryptox.DeriveSessionKey([]byte(msg.Token), clientID)
	if err != nil {
		_ = protocol.WriteAuthResponse(s.conn, false, nil, "key derivation failed")
		return fmt.Errorf("derive session key: %w", err)
	}

	s.clientID = clientID
	s.sessionKey = key

	if err := protocol.WriteAuthResponse(s.conn, true, key, ""); err != nil {
		return fmt.Errorf("write auth response: %w", err)
	}
	return nil
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
		case protocol.MsgTypeProxyConfig:
			msg, err := protocol.DecodeProxyConfig(payload)
			if err != nil {
				return fmt.Errorf("decode proxy config: %w", err)
			}
			s.handleProxyConfig(msg)
		case protocol.MsgTypeConnectionResponse:
			msg, err := protocol.DecodeConnectionResponse(payload)
			if err != nil {
				return fmt.Errorf("decode connection response: %w", err)
			}
			s.handleConnectionResponse(msg)
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
		case protocol.MsgTypeHeartbeat:
			msg, err := protocol.DecodeHeartbeat(payload)
			if err != nil {
				return fmt.Errorf("decode heartbeat: %w", err)
			}
			s.handleHeartbeat(msg)
		default:
			s.logger.Warn().Uint8("type", msgType).Msg("unexpected message type, ignoring")
		}
	}
}

func (s *session) handleProxyConfig(msg protocol.ProxyConfigMsg) {
	proxyID := uuid.NewString()
	addr := fmt.Sprintf("%s:%d", s.srv.config.BindHost, msg.RemotePort)

	if err := s.srv.portOwners.Insert(msg.RemotePort, proxyID); err != nil {
		s.logger.Warn().Uint16("remote_port", msg.RemotePort).Msg("rejecting proxy config, remote_port already in use")
		_ = protocol.WriteProxyConfigResponse(s.conn, false, "", fmt.Sprintf("remote_port %d already in use", msg.RemotePort))
		return
	}

	lc := net.ListenConfig{Control: setSocketOptions}
	ln, err := lc.Listen(s.ctx, "tcp", addr)
	if err != nil {
		s.srv.portOwners.Remove(msg.RemotePort)
		s.logger.Warn().Err(err).Str("addr", addr).Msg("rejecting proxy config, bind failed")
		_ = protocol.WriteProxyConfigResponse(s.conn, false, "", err.Error())
		return
	}

	proxy := &Proxy{
		ID:         proxyID,
		ClientID:   s.clientID,
		LocalIP:    msg.LocalIP,
		LocalPort:  msg.LocalPort,
		RemotePort: msg.RemotePort,
		listener:   ln,
	}
	if err := s.proxies.Insert(proxyID, proxy); err != nil {
		ln.Close()
		s.srv.portOwners.Remove(msg.RemotePort)
		s.logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("rejecting proxy config, duplicate proxy_id")
		_ = protocol.WriteProxyConfigResponse(s.conn, false, "", err.Error())
		return
	}

	s.logger.Info().
		Str("proxy_id", proxyID).
		Str("local", fmt.Sprintf("%s:%d", msg.LocalIP, msg.LocalPort)).
		Uint16("remote_port", msg.RemotePort).
		Msg("proxy registered")

	s.wg.Add(1)
	go s.acceptLoop(proxy)

	if err := protocol.WriteProxyConfigResponse(s.conn, true, proxyID, ""); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write proxy config response")
	}
}

func (s *session) acceptLoop(proxy *Proxy) {
	defer s.wg.Done()

	logger := s.logger.With().Str("proxy_id", proxy.ID).Logger()
	for {
		conn, err := proxy.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			logger.Debug().Err(err).Msg("accept failed, proxy listener closing")
			return
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetReadBuffer(256 * 1024)
			_ = tc.SetWriteBuffer(256 * 1024)
		}

		connID := uuid.NewString()
		c := NewConnection(connID, proxy.ID, conn)
		if err := s.connections.Insert(connID, c); err != nil {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.serveConnection(proxy, c)
	}
}

func (s *session) serveConnection(proxy *Proxy, c *Connection) {
	defer s.wg.Done()

	logger := s.logger.With().Str("connection_id", c.ID).Str("proxy_id", proxy.ID).Logger()

	if err := s.writeMessage(func(w net.Conn) error {
		return protocol.WriteNewConnection(w, proxy.ID, c.ID)
	}); err != nil {
		logger.Debug().Err(err).Msg("failed to notify client of new connection")
		s.connections.Remove(c.ID)
		c.Close()
		return
	}

	select {
	case err := <-c.ackCh:
		if err != nil {
			logger.Debug().Err(err).Msg("client failed to dial local service")
			s.connections.Remove(c.ID)
			c.Close()
			return
		}
	case <-time.After(connectionResponseTimeout):
		logger.Warn().Msg("timed out waiting for connection response")
		s.connections.Remove(c.ID)
		c.Close()
		return
	case <-s.ctx.Done():
		return
	}

	logger.Info().Msg("tunneled connection established")

	err := protocol.PumpToControl(s.conn, &s.writeMu, c.ID, c.conn, s.sealFunc())
	if err != nil {
		logger.Debug().Err(err).Msg("pump from external connection ended")
	}

	_, stillPresent := s.connections.Remove(c.ID)
	if stillPresent {
		_ = s.writeMessage(func(w net.Conn) error {
			return protocol.WriteCloseConnection(w, c.ID)
		})
	}
	c.Close()
}

func (s *session) handleConnectionResponse(msg protocol.ConnectionResponseMsg) {
	c, ok := s.connections.Get(msg.ConnectionID)
	if !ok {
		return
	}

	var ackErr error
	if !msg.Success {
		ackErr = fmt.Errorf("%s", msg.Error)
	}
	select {
	case c.ackCh <- ackErr:
	default:
	}
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

func (s *session) handleHeartbeat(msg protocol.HeartbeatMsg) {
	s.lastHeartbeat.Store(time.Now().UnixNano())
	if err := s.writeMessage(func(w net.Conn) error {
		return protocol.WriteHeartbeatResponse(w, msg.Timestamp)
	}); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write heartbeat response")
	}
}

func (s *session) heartbeatMonitor() {
	defer s.wg.Done()

	timeout := s.srv.config.HeartbeatTimeout
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastHeartbeat.Load())
			if time.Since(last) > timeout {
				s.logger.Warn().Dur("timeout", timeout).Msg("heartbeat timeout, closing session")
				s.conn.Close()
				s.cancel()
				return
			}
		}
	}
}

// writeMessage serializes control-connection writes across every
// concurrent pump and handler goroutine in the session.
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

	for _, proxy := range s.proxies.Snapshot() {
		proxy.Close()
		s.srv.portOwners.Remove(proxy.RemotePort)
	}
	for _, c := range s.connections.Snapshot() {
		c.Close()
	}

	s.wg.Wait()
	s.conn.Close()
	s.srv.clientCount.Add(-1)
	s.logger.Info().Msg("session closed")
}
