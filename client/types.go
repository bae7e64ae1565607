package client

import (
	"net"
	"sync"
)

// Connection is one local connection dialed in response to a
// NewConnection message from the server.
type Connection struct {
	ID   string
	conn net.Conn

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewConnection wraps a dialed local service connection.
func NewConnection(id string, conn net.Conn) *Connection {
	return &Connection{
		ID:      id,
		conn:    conn,
		closeCh: make(chan struct{}),
	}
}

// Done returns a channel closed once the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.closeCh
}

// Close closes the local socket and signals Done exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
}
