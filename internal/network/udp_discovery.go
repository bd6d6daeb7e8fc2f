package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/config"
)

// DiscoveryMagicByte opens every valid discovery probe. Anything else on
// the socket is ignored.
const DiscoveryMagicByte = 0x52

// UDPDiscoveryListener answers LAN discovery and latency probes. Clients
// send a single magic byte; the response names the relay, its version and
// the TCP port to connect to.
type UDPDiscoveryListener struct {
	cfg     config.RelayData
	version string
	conn    *net.UDPConn
}

// NewUDPDiscoveryListener creates the responder; Start binds it.
func NewUDPDiscoveryListener(cfg config.RelayData, version string) *UDPDiscoveryListener {
	return &UDPDiscoveryListener{
		cfg:     cfg,
		version: version,
	}
}

// Start begins answering probes until the context is cancelled.
func (l *UDPDiscoveryListener) Start(ctx context.Context) error {
	addr := &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: l.cfg.UDPPort,
	}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return fmt.Errorf("failed to start UDP discovery listener on port %d: %w", l.cfg.UDPPort, err)
	}
	l.conn = pc.(*net.UDPConn)

	log.Info().Int("port", l.cfg.UDPPort).Msg("UDP discovery listener started")

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	response := []byte(fmt.Sprintf("RELAY %s %d", l.version, l.cfg.ListenPort))

	buf := make([]byte, 1024)
	for {
		n, remoteAddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("UDP discovery listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("UDP read error")
				continue
			}
		}

		if n < 1 || buf[0] != DiscoveryMagicByte {
			continue
		}

		if _, err := l.conn.WriteToUDP(response, remoteAddr); err != nil {
			log.Warn().
				Err(err).
				Str("remote", remoteAddr.String()).
				Msg("failed to send discovery response")
		}

		log.Trace().
			Str("remote", remoteAddr.String()).
			Msg("answered discovery probe")
	}
}

// SelfTest sends a probe to the local responder and waits for the reply.
func (l *UDPDiscoveryListener) SelfTest() error {
	addr := &net.UDPAddr{
		IP:   net.IPv4(127, 0, 0, 1),
		Port: l.cfg.UDPPort,
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("self-test dial failed: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{DiscoveryMagicByte}); err != nil {
		return fmt.Errorf("self-test write failed: %w", err)
	}

	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		return fmt.Errorf("self-test read failed: %w", err)
	}

	log.Debug().Int("port", l.cfg.UDPPort).Msg("discovery self-test passed")
	return nil
}

// Stop closes the UDP socket.
func (l *UDPDiscoveryListener) Stop() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
