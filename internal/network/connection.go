// Package network implements the TCP listener carrying the relay wire
// protocol and the UDP discovery responder.
package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/protocol"
)

// WriteTimeout bounds a single packet write; a peer that cannot drain
// its socket within it is treated as gone.
const WriteTimeout = 10 * time.Second

// TCPTransport adapts a net.Conn to the relay's Transport interface.
// Writes are serialized under the mutex because room forwarding delivers
// packets to a member from several session goroutines.
type TCPTransport struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time
}

// NewTCPTransport wraps an accepted connection.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	now := time.Now()
	return &TCPTransport{
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "transport").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// SendPacket frames and writes one packet.
func (t *TCPTransport) SendPacket(p *protocol.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport closed")
	}

	t.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := t.conn.Write(p.Encode()); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	t.lastActivity = time.Now()
	return nil
}

// Read pulls raw bytes off the socket for the session's decoder. The
// deadline doubles as the idle reaper: a client that sends nothing for
// the whole window times out and is torn down.
func (t *TCPTransport) Read(buf []byte, idleTimeout time.Duration) (int, error) {
	if idleTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	n, err := t.conn.Read(buf)
	if n > 0 {
		t.mu.Lock()
		t.lastActivity = time.Now()
		t.mu.Unlock()
	}
	return n, err
}

// Close shuts the socket. Safe to call more than once.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.logger.Debug().Msg("transport closed")
	return t.conn.Close()
}

// IsClosed reports whether Close has run.
func (t *TCPTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// RemoteAddr returns the peer's address as host:port.
func (t *TCPTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// LastActivity returns the time of the last successful read or write.
func (t *TCPTransport) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// ConnectedAt returns when the connection was accepted.
func (t *TCPTransport) ConnectedAt() time.Time {
	return t.connectedAt
}
