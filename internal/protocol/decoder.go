package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decoder errors. All of them are fatal for the connection that produced
// the bytes; the caller must close the transport and discard the decoder.
var (
	ErrFrameTooLarge   = errors.New("protocol: frame exceeds maximum size")
	ErrMalformedHeader = errors.New("protocol: negative length or type in frame header")
	ErrUnknownType     = errors.New("protocol: unresolvable packet type")
)

// Decoder converts an incrementally-growing byte stream into discrete
// packets. It buffers partial frames between calls, so input may arrive in
// arbitrary chunks from single bytes up to the whole stream at once.
//
// A Decoder is owned by a single connection goroutine and is not safe for
// concurrent use.
type Decoder struct {
	buf      []byte
	maxFrame int
}

// NewDecoder returns a decoder with the given frame size limit.
// A limit <= 0 selects DefaultMaxFrameSize.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Decoder{maxFrame: maxFrame}
}

// Feed appends data to the internal buffer and returns every complete
// packet now available. A nil error with zero packets means the decoder is
// waiting for more input. Any non-nil error is fatal: the buffer has been
// discarded and the connection must be closed.
func (d *Decoder) Feed(data []byte) ([]*Packet, error) {
	d.buf = append(d.buf, data...)

	var packets []*Packet
	for {
		if len(d.buf) < HeaderSize {
			return packets, nil
		}

		// A hostile or buggy peer can grow the buffer without ever
		// completing a frame; cap it before memory runs away.
		if len(d.buf) > d.maxFrame {
			d.buf = nil
			return nil, ErrFrameTooLarge
		}

		contentLength := int32(binary.BigEndian.Uint32(d.buf[0:4]))
		typeCode := int32(binary.BigEndian.Uint32(d.buf[4:8]))

		if contentLength < 0 || typeCode < 0 {
			d.buf = nil
			return nil, ErrMalformedHeader
		}

		total := HeaderSize + int(contentLength)
		if total > d.maxFrame {
			d.buf = nil
			return nil, ErrFrameTooLarge
		}
		if len(d.buf) < total {
			// Header stays buffered untouched until the payload
			// arrives, however many chunks that takes.
			return packets, nil
		}

		packetType := TypeFromCode(typeCode)
		if packetType == PacketNotResolved {
			d.buf = nil
			return nil, fmt.Errorf("%w: code %d", ErrUnknownType, typeCode)
		}

		payload := make([]byte, contentLength)
		copy(payload, d.buf[HeaderSize:total])
		d.buf = d.buf[total:]

		packets = append(packets, NewPacket(packetType, payload))
	}
}

// Buffered reports how many bytes are waiting for frame completion.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
