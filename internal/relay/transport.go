// Package relay implements the rendezvous core: the per-connection
// handshake state machine, room registry and lifecycle, site-indexed
// packet forwarding between an admin and its clients, and admin migration.
package relay

import "github.com/relaygate-project/relaygate/internal/protocol"

// Transport is the reliable, ordered byte-stream session a connection
// lives on. The network layer provides a TCP implementation; tests plug in
// recording fakes.
//
// SendPacket is fire-and-forget from the relay's point of view: a failed
// send is logged and dropped at the call site, never retried, and never
// allowed to unwind room bookkeeping.
type Transport interface {
	SendPacket(p *protocol.Packet) error
	Close() error
	RemoteAddr() string
}
