package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/protocol"
	"github.com/relaygate-project/relaygate/internal/relay"
)

// TCPListener accepts game client connections and runs one read loop per
// session, feeding decoded frames into the relay state machine.
type TCPListener struct {
	cfg      config.RelayData
	server   *relay.Server
	listener net.Listener
}

// NewTCPListener creates the listener; Start binds it.
func NewTCPListener(cfg config.RelayData, server *relay.Server) *TCPListener {
	return &TCPListener{
		cfg:    cfg,
		server: server,
	}
}

// Start binds the relay port and accepts until the context is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", l.cfg.ListenPort)

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("relay TCP listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("relay TCP listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		go l.handleConnection(ctx, conn)
	}
}

// handleConnection owns one socket: admission, the read pump and the
// decode-dispatch loop. Any fatal condition funnels into Disconnect so
// room bookkeeping happens exactly once.
func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	remote := rawConn.RemoteAddr().String()
	logger := log.With().
		Str("component", "tcp_handler").
		Str("remote", remote).
		Logger()

	if err := l.server.Admit(remote); err != nil {
		rawConn.Close()
		return
	}

	transport := NewTCPTransport(rawConn)
	session := l.server.NewSession(transport)
	defer session.Disconnect()

	logger.Debug().Msg("client connected")

	idleTimeout := time.Duration(l.cfg.IdleTimeoutSec) * time.Second
	decoder := protocol.NewDecoder(l.cfg.MaxFrameSize)
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := transport.Read(buf, idleTimeout)
		if err != nil {
			if transport.IsClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Info().Msg("idle timeout, closing connection")
				return
			}
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("read error, closing connection")
			}
			return
		}

		packets, err := decoder.Feed(buf[:n])
		if err != nil {
			logger.Warn().Err(err).Msg("malformed frame, closing connection")
			return
		}

		for _, p := range packets {
			if err := session.HandlePacket(p); err != nil {
				logger.Warn().Err(err).Stringer("type", p.Type).Msg("protocol violation, closing connection")
				return
			}
		}
	}
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
