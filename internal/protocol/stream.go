package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader parses a packet payload field by field. The wire format follows
// Java DataStream conventions: big-endian integers and UTF strings with a
// uint16 byte-length prefix.
type Reader struct {
	r *bytes.Reader
}

// NewReader wraps a payload for field-wise reading.
func NewReader(payload []byte) *Reader {
	return &Reader{r: bytes.NewReader(payload)}
}

// ReaderFor wraps the payload of a packet.
func ReaderFor(p *Packet) *Reader {
	return NewReader(p.Payload)
}

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	return r.r.ReadByte()
}

// ReadBool reads one byte as a boolean.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	return b != 0, err
}

// ReadInt reads a big-endian int32.
func (r *Reader) ReadInt() (int32, error) {
	var v int32
	if err := binary.Read(r.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("failed to read int: %w", err)
	}
	return v, nil
}

// ReadFloat reads a big-endian float32.
func (r *Reader) ReadFloat() (float32, error) {
	var bits uint32
	if err := binary.Read(r.r, binary.BigEndian, &bits); err != nil {
		return 0, fmt.Errorf("failed to read float: %w", err)
	}
	return math.Float32frombits(bits), nil
}

// ReadString reads a uint16 length prefix followed by that many bytes.
func (r *Reader) ReadString() (string, error) {
	var length uint16
	if err := binary.Read(r.r, binary.BigEndian, &length); err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", fmt.Errorf("failed to read string body (%d bytes): %w", length, err)
	}
	return string(buf), nil
}

// ReadIsString reads a boolean presence flag followed, when set, by a
// string. Absent strings decode as "".
func (r *Reader) ReadIsString() (string, error) {
	present, err := r.ReadBool()
	if err != nil {
		return "", err
	}
	if !present {
		return "", nil
	}
	return r.ReadString()
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) error {
	if _, err := r.r.Seek(int64(n), io.SeekCurrent); err != nil {
		return fmt.Errorf("failed to skip %d bytes: %w", n, err)
	}
	return nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes: %w", n, err)
	}
	return buf, nil
}

// ReadRemaining returns every byte left in the payload.
func (r *Reader) ReadRemaining() []byte {
	buf := make([]byte, r.r.Len())
	io.ReadFull(r.r, buf)
	return buf
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int {
	return r.r.Len()
}

// Writer assembles a packet payload field by field, mirroring Reader.
// Writes to the underlying buffer cannot fail, so the methods stay
// error-free and chain naturally.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty payload writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(b byte) *Writer {
	w.buf.WriteByte(b)
	return w
}

// WriteBool appends a boolean as one byte.
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

// WriteInt appends a big-endian int32.
func (w *Writer) WriteInt(v int32) *Writer {
	binary.Write(&w.buf, binary.BigEndian, v)
	return w
}

// WriteFloat appends a big-endian float32.
func (w *Writer) WriteFloat(v float32) *Writer {
	binary.Write(&w.buf, binary.BigEndian, math.Float32bits(v))
	return w
}

// WriteString appends a uint16 length prefix and the string bytes.
func (w *Writer) WriteString(s string) *Writer {
	binary.Write(&w.buf, binary.BigEndian, uint16(len(s)))
	w.buf.WriteString(s)
	return w
}

// WriteIsString appends a presence flag and, for non-empty strings, the
// string itself.
func (w *Writer) WriteIsString(s string) *Writer {
	if s == "" {
		return w.WriteBool(false)
	}
	return w.WriteBool(true).WriteString(s)
}

// WriteBytes appends raw bytes with no prefix.
func (w *Writer) WriteBytes(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

// Packet seals the accumulated payload into a packet of the given type.
func (w *Writer) Packet(t PacketType) *Packet {
	return NewPacket(t, w.buf.Bytes())
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}
