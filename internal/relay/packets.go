package relay

import (
	"strings"

	"github.com/relaygate-project/relaygate/internal/protocol"
)

// extendedVersion is the client version from which the wire format grew
// extra identity fields in the forwarding handshakes.
const extendedVersion = 999

// isBetaVersion classifies a numeric client version as a beta build.
// Stable releases sit at 151 and from 176 up.
func isBetaVersion(v int32) bool {
	return v > 151 && v < 176
}

// forwardClientAdd announces a member to the admin's game engine so it can
// pre-register the site before any forwarded traffic arrives.
func forwardClientAdd(clientVersion int32, site int32, playerID, ip string) *protocol.Packet {
	w := protocol.NewWriter()
	if clientVersion >= extendedVersion {
		w.WriteUint8(1).
			WriteInt(site).
			WriteString(playerID).
			WriteIsString(playerID).
			WriteIsString(ip)
	} else {
		w.WriteUint8(0).
			WriteInt(site).
			WriteString(playerID).
			WriteIsString(playerID)
	}
	return w.Packet(protocol.PacketForwardClientAdd)
}

// forwardHostSet is the become-admin handshake: server identity, mod flag
// and the public room identifier string.
func forwardHostSet(clientVersion int32, roomUUID string, isMod bool, publicID, playerID string) *protocol.Packet {
	w := protocol.NewWriter()
	extended := clientVersion >= extendedVersion
	if extended {
		w.WriteUint8(2)
	} else {
		w.WriteUint8(1)
	}
	w.WriteBool(true).
		WriteBool(true).
		WriteBool(true).
		WriteString(roomUUID).
		WriteBool(isMod).
		WriteBool(false).
		WriteBool(true).
		WriteString("{{Relaygate}}.Room ID : " + publicID).
		WriteBool(false)
	if extended {
		w.WriteIsString(playerID)
	}
	return w.Packet(protocol.PacketForwardHostSet)
}

// customModePackets applies accepted P/I values to a freshly created room:
// a preregister echo, a server-info block, and the team-list carrying the
// player/unit/income configuration.
func customModePackets(clientVersion int32, roomUUID string, custom CustomSettings) []*protocol.Packet {
	maxPlayers := custom.MaxPlayers
	if maxPlayers == -1 {
		maxPlayers = 10
	}

	preregister := protocol.NewWriter().
		WriteString("com.corrodinggames.rts.server").
		WriteInt(1).
		WriteInt(clientVersion).
		WriteInt(clientVersion).
		WriteString(roomUUID).
		Packet(protocol.PacketPreregisterInfo)

	serverInfo := protocol.NewWriter().
		WriteString("Relaygate Custom Mode").
		WriteInt(clientVersion).
		WriteInt(int32(maxPlayers)).
		WriteBool(true).
		Packet(protocol.PacketServerInfo)

	teamList := protocol.NewWriter().
		WriteInt(0).
		WriteBool(false).
		WriteInt(int32(maxPlayers)).
		WriteInt(int32(custom.MaxUnits)).
		WriteInt(int32(custom.MaxUnits)).
		WriteFloat(custom.Income).
		Packet(protocol.PacketTeamList)

	return []*protocol.Packet{preregister, serverInfo, teamList}
}

// parseTeamAssignments reads the site/team pairs from an admin-originated
// team-list payload and applies them to the roster's moderation records.
func parseTeamAssignments(payload []byte, room *Room) {
	r := protocol.NewReader(payload)
	count, err := r.ReadInt()
	if err != nil || count < 0 || count > 1024 {
		return
	}
	for i := int32(0); i < count; i++ {
		site, err := r.ReadInt()
		if err != nil {
			return
		}
		team, err := r.ReadInt()
		if err != nil {
			return
		}
		if member, ok := room.Member(site); ok {
			if p := member.Player(); p != nil {
				p.SetTeam(team)
			}
		}
	}
}

// stripDigits removes decimal digits from a kick message before delivery,
// so the embedded moderation codes never reach the client.
func stripDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, s)
}
