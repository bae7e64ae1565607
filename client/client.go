package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sowback/sowback/config"
)

// dialTimeout bounds a single attempt to reach one configured server
// address before moving on to the next address in the list.
const dialTimeout = 10 * time.Second

// Client drives the Dialing -> Authenticating -> Registering -> Serving
// state machine against one active session at a time, reconnecting with
// exponential backoff whenever the session ends.
type Client struct {
	config *config.Client
	logger zerolog.Logger
}

// New creates a Client.
func New(conf *config.Client) (*Client, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("com", "client").Logger()
	if conf.Name != "" {
		logger = logger.With().Str("name", conf.Name).Logger()
	}

	return &Client{config: conf, logger: logger}, nil
}

// Start runs the client until ctx is cancelled, reconnecting forever on
// failure.
func (c *Client) Start(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("failed to reach any configured server")
			if !c.sleepBackoff(ctx, attempt) {
				return nil
			}
			attempt++
			continue
		}

		sess := newSession(c.config, conn, c.logger)

		err = sess.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if sess.reachedServing() {
			attempt = 0
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("session ended, reconnecting")
		}

		if !c.sleepBackoff(ctx, attempt) {
			return nil
		}
		attempt++
	}
}

// dial tries each configured server address in order, returning the first
// successful connection.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var errs []error
	for _, addr := range c.config.Servers {
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		c.logger.Info().Str("server", addr).Msg("connected")
		return conn, nil
	}
	return nil, errors.Join(errs...)
}

// sleepBackoff waits the backoff delay for attempt, returning false if ctx
// was cancelled during the wait.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := calculateBackoff(attempt, c.config.ReconnectBaseDelay, c.config.ReconnectMaxDelay)
	c.logger.Info().Dur("delay", delay).Msg("waiting before reconnect")

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
