package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed frame header: int32 length + int32 type.
	HeaderSize = 8

	// DefaultMaxFrameSize is the largest total frame accepted before the
	// peer is considered hostile and the connection closed.
	DefaultMaxFrameSize = 50 * 1024 * 1024
)

// Packet is one decoded frame. Immutable once constructed; the payload is
// opaque except for the few types the relay inspects for bookkeeping.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// NewPacket constructs a packet over the given payload.
func NewPacket(t PacketType, payload []byte) *Packet {
	return &Packet{Type: t, Payload: payload}
}

// Encode renders the packet into wire format:
// int32 payload length | int32 type code | payload.
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(p.Payload)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(p.Type)))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// WriteTo writes the encoded frame to w.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Encode())
	return int64(n), err
}

// String describes the packet for logging.
func (p *Packet) String() string {
	return fmt.Sprintf("%s(%d bytes)", p.Type, len(p.Payload))
}
