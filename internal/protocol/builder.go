package protocol

import "fmt"

// Builders for the small set of packets the relay originates itself.
// Everything else on the wire is either forwarded verbatim or assembled
// close to the state that feeds it.

// ChatMessage builds a chat line as it appears to the game client.
// team selects the chat channel slot; -1 renders as a system line.
func ChatMessage(msg, sender string, team int32) *Packet {
	return NewWriter().
		WriteString(msg).
		WriteUint8(3).
		WriteIsString(sender).
		WriteInt(team).
		WriteInt(team).
		Packet(PacketChat)
}

// SystemMessage builds a server-originated chat line.
func SystemMessage(msg string) *Packet {
	return ChatMessage(msg, "SERVER", -1)
}

// KickPacket tells the client why it is being dropped.
func KickPacket(reason string) *Packet {
	return NewWriter().WriteString(reason).Packet(PacketKick)
}

// ExitPacket is the disconnect notice forwarded to the admin when a
// member leaves.
func ExitPacket() *Packet {
	return NewWriter().WriteString("exited").Packet(PacketDisconnect)
}

// RelayServerInfo announces the relay protocol revision to a client that
// just connected. The content is constant, so callers may cache it.
func RelayServerInfo() *Packet {
	return NewWriter().
		WriteUint8(0).
		WriteInt(151).
		WriteInt(1).
		WriteBool(false).
		Packet(PacketRelayVersionInfo)
}

// RelayServerTypePrompt asks the client for a room selection string. The
// client answers with a PacketRelayServerTypeReply.
func RelayServerTypePrompt(msg string) *Packet {
	return NewWriter().
		WriteUint8(1).
		WriteString(msg).
		Packet(PacketRelayServerType)
}

// ParseRelayServerTypeReply extracts the free-text room selection from the
// client's answer to a prompt.
func ParseRelayServerTypeReply(p *Packet) (string, error) {
	r := ReaderFor(p)
	if err := r.Skip(5); err != nil {
		return "", fmt.Errorf("failed to parse room selection reply: %w", err)
	}
	s, err := r.ReadString()
	if err != nil {
		return "", fmt.Errorf("failed to parse room selection reply: %w", err)
	}
	return s, nil
}

// Redirect points the client at another relay host and is followed by a
// connection close on this side.
func Redirect(host string) *Packet {
	return NewWriter().WriteString(host).Packet(PacketReconnectTo)
}

// HeartBeatResponse echoes the probe body back with the liveness trailer.
func HeartBeatResponse(probe *Packet) (*Packet, error) {
	r := ReaderFor(probe)
	body, err := r.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat probe: %w", err)
	}
	return NewWriter().
		WriteBytes(body).
		WriteUint8(1).
		WriteUint8(60).
		Packet(PacketHeartBeatResponse), nil
}

// ForwardEnvelope wraps a client-originated packet for delivery to the
// admin: site, length twice (once including the inner header), inner type,
// then the raw payload.
func ForwardEnvelope(site int32, inner *Packet) *Packet {
	return NewWriter().
		WriteInt(site).
		WriteInt(int32(len(inner.Payload))+8).
		WriteInt(int32(len(inner.Payload))).
		WriteInt(int32(inner.Type)).
		WriteBytes(inner.Payload).
		Packet(PacketForwardClientFrom)
}

// ParseForwardEnvelope unwraps an admin-originated envelope into its target
// site, inner type and payload.
func ParseForwardEnvelope(p *Packet) (site int32, inner *Packet, err error) {
	r := ReaderFor(p)
	if site, err = r.ReadInt(); err != nil {
		return 0, nil, fmt.Errorf("failed to parse envelope target: %w", err)
	}
	if _, err = r.ReadInt(); err != nil { // length including inner header
		return 0, nil, fmt.Errorf("failed to parse envelope length: %w", err)
	}
	innerLen, err := r.ReadInt()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse envelope inner length: %w", err)
	}
	innerType, err := r.ReadInt()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse envelope inner type: %w", err)
	}
	payload, err := r.ReadBytes(int(innerLen))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse envelope payload: %w", err)
	}
	// The inner code is kept verbatim rather than resolved through the
	// registry: unknown inner types are forwarded, not rejected.
	return site, NewPacket(PacketType(innerType), payload), nil
}

// ClientRemove tells the admin that the member at site left the room.
func ClientRemove(site int32) *Packet {
	return NewWriter().
		WriteUint8(0).
		WriteInt(site).
		Packet(PacketForwardClientRemove)
}
