package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWriterFields(t *testing.T) {
	payload := NewWriter().
		WriteUint8(7).
		WriteBool(true).
		WriteInt(-12345).
		WriteFloat(1.5).
		WriteString("room").
		WriteIsString("").
		WriteIsString("present").
		Bytes()

	r := NewReader(payload)

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)

	flag, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, flag)

	i, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(-12345), i)

	f, err := r.ReadFloat()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "room", s)

	absent, err := r.ReadIsString()
	require.NoError(t, err)
	assert.Equal(t, "", absent)

	present, err := r.ReadIsString()
	require.NoError(t, err)
	assert.Equal(t, "present", present)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderTruncatedString(t *testing.T) {
	// Length prefix claims 10 bytes but only 3 follow.
	payload := []byte{0, 10, 'a', 'b', 'c'}
	r := NewReader(payload)

	_, err := r.ReadString()
	assert.Error(t, err)
}

func TestReaderSkipAndRemaining(t *testing.T) {
	payload := NewWriter().WriteInt(1).WriteInt(2).WriteInt(3).Bytes()
	r := NewReader(payload)

	require.NoError(t, r.Skip(8))
	v, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
	assert.Empty(t, r.ReadRemaining())
}

func TestForwardEnvelopeRoundTrip(t *testing.T) {
	inner := NewPacket(PacketChat, NewWriter().WriteString("hi").Bytes())

	env := ForwardEnvelope(4, inner)
	assert.Equal(t, PacketForwardClientFrom, env.Type)

	site, unwrapped, err := ParseForwardEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, int32(4), site)
	assert.Equal(t, inner.Type, unwrapped.Type)
	assert.Equal(t, inner.Payload, unwrapped.Payload)
}

func TestForwardEnvelopeKeepsUnknownInnerCode(t *testing.T) {
	// Inner codes outside the registry pass through untouched; the relay
	// forwards them instead of rejecting.
	env := NewWriter().
		WriteInt(2).
		WriteInt(8).
		WriteInt(0).
		WriteInt(4242).
		Packet(PacketForwardClientTo)

	site, inner, err := ParseForwardEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, int32(2), site)
	assert.Equal(t, int32(4242), int32(inner.Type))
}

func TestParseForwardEnvelopeTruncated(t *testing.T) {
	env := NewPacket(PacketForwardClientTo, []byte{0, 0})
	_, _, err := ParseForwardEnvelope(env)
	assert.Error(t, err)
}

func TestHeartBeatResponseEchoesProbe(t *testing.T) {
	probe := NewWriter().WriteInt(987654).WriteInt(13).Packet(PacketHeartBeat)

	resp, err := HeartBeatResponse(probe)
	require.NoError(t, err)
	assert.Equal(t, PacketHeartBeatResponse, resp.Type)

	r := ReaderFor(resp)
	echo, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(987654), echo)
	require.NoError(t, r.Skip(4))

	// Liveness trailer follows the echoed probe body.
	assert.Equal(t, 2, r.Remaining())
}

func TestHeartBeatResponseShortProbe(t *testing.T) {
	probe := NewWriter().WriteInt(1).Packet(PacketHeartBeat)
	_, err := HeartBeatResponse(probe)
	assert.Error(t, err)
}

func TestChatMessageShape(t *testing.T) {
	p := ChatMessage("hello", "RELAY", 5)
	assert.Equal(t, PacketChat, p.Type)

	r := ReaderFor(p)
	msg, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)

	require.NoError(t, r.Skip(1))

	sender, err := r.ReadIsString()
	require.NoError(t, err)
	assert.Equal(t, "RELAY", sender)

	team, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(5), team)
}

func TestParseRelayServerTypeReply(t *testing.T) {
	p := NewWriter().
		WriteUint8(1).
		WriteInt(0).
		WriteString("R12345").
		Packet(PacketRelayServerTypeReply)

	sel, err := ParseRelayServerTypeReply(p)
	require.NoError(t, err)
	assert.Equal(t, "R12345", sel)
}
