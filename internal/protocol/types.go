// Package protocol implements the binary wire protocol spoken between the
// relay and game clients: a length-prefixed frame codec, the closed packet
// type registry, and builders for the packets the relay originates itself.
// All integers on the wire are big-endian.
package protocol

import "fmt"

// PacketType is the wire code carried in every frame header.
type PacketType int32

// Wire codes inherited from the game protocol. The relay only interprets a
// handful of these; everything else is forwarded as opaque payload.
const (
	// Debug / info
	PacketServerDebugReceive PacketType = 2000
	PacketServerDebug        PacketType = 2001
	PacketGetServerInfoRecv  PacketType = 3000
	PacketGetServerInfo      PacketType = 3001
	PacketUpdateClassReceive PacketType = 3010
	PacketStatusResult       PacketType = 3999

	// Registration
	PacketPreregisterInfoRecv PacketType = 160
	PacketPreregisterInfo     PacketType = 161
	PacketPasswdError         PacketType = 113
	PacketRegisterPlayer      PacketType = 110

	// Server info
	PacketServerInfo PacketType = 106
	PacketTeamList   PacketType = 115

	// Heartbeat
	PacketHeartBeat         PacketType = 108
	PacketHeartBeatResponse PacketType = 109

	// Chat
	PacketChatReceive PacketType = 140
	PacketChat        PacketType = 141

	// Net status
	PacketKick       PacketType = 150
	PacketDisconnect PacketType = 111

	// Game start
	PacketStartGame        PacketType = 120
	PacketAcceptStartGame  PacketType = 112
	PacketReturnToBattleRm PacketType = 122

	// In-game commands
	PacketTick               PacketType = 10
	PacketGameCommandReceive PacketType = 20
	PacketSyncChecksumStatus PacketType = 31
	PacketSyncCheck          PacketType = 30
	PacketSync               PacketType = 35

	// Relay control
	PacketRelayServerType      PacketType = 117
	PacketRelayServerTypeReply PacketType = 118
	PacketRelayPow             PacketType = 151
	PacketRelayPowReceive      PacketType = 152

	PacketRelayVersionInfo      PacketType = 163
	PacketForwardHostSet        PacketType = 170
	PacketForwardClientAdd      PacketType = 172
	PacketForwardClientRemove   PacketType = 173
	PacketForwardClientFrom     PacketType = 174
	PacketForwardClientTo       PacketType = 175
	PacketForwardClientToRepeat PacketType = 176
	PacketReconnectTo           PacketType = 178

	PacketEmptyPackage PacketType = 0

	// PacketNotResolved is the sentinel for wire codes outside the
	// registry. The decoder treats it as fatal for the connection.
	PacketNotResolved PacketType = -1
)

// typeNames drives both the registry and String(). Adding a code twice is a
// programming error and panics during package init.
var typeNames = map[PacketType]string{
	PacketServerDebugReceive:    "SERVER_DEBUG_RECEIVE",
	PacketServerDebug:           "SERVER_DEBUG",
	PacketGetServerInfoRecv:     "GET_SERVER_INFO_RECEIVE",
	PacketGetServerInfo:         "GET_SERVER_INFO",
	PacketUpdateClassReceive:    "UPDATE_CLASS_RECEIVE",
	PacketStatusResult:          "STATUS_RESULT",
	PacketPreregisterInfoRecv:   "PREREGISTER_INFO_RECEIVE",
	PacketPreregisterInfo:       "PREREGISTER_INFO",
	PacketPasswdError:           "PASSWD_ERROR",
	PacketRegisterPlayer:        "REGISTER_PLAYER",
	PacketServerInfo:            "SERVER_INFO",
	PacketTeamList:              "TEAM_LIST",
	PacketHeartBeat:             "HEART_BEAT",
	PacketHeartBeatResponse:     "HEART_BEAT_RESPONSE",
	PacketChatReceive:           "CHAT_RECEIVE",
	PacketChat:                  "CHAT",
	PacketKick:                  "KICK",
	PacketDisconnect:            "DISCONNECT",
	PacketStartGame:             "START_GAME",
	PacketAcceptStartGame:       "ACCEPT_START_GAME",
	PacketReturnToBattleRm:      "RETURN_TO_BATTLEROOM",
	PacketTick:                  "TICK",
	PacketGameCommandReceive:    "GAMECOMMAND_RECEIVE",
	PacketSyncChecksumStatus:    "SYNCCHECKSUM_STATUS",
	PacketSyncCheck:             "SYNC_CHECK",
	PacketSync:                  "SYNC",
	PacketRelayServerType:       "RELAY_SERVER_TYPE",
	PacketRelayServerTypeReply:  "RELAY_SERVER_TYPE_REPLY",
	PacketRelayPow:              "RELAY_POW",
	PacketRelayPowReceive:       "RELAY_POW_RECEIVE",
	PacketRelayVersionInfo:      "RELAY_VERSION_INFO",
	PacketForwardHostSet:        "FORWARD_HOST_SET",
	PacketForwardClientAdd:      "FORWARD_CLIENT_ADD",
	PacketForwardClientRemove:   "FORWARD_CLIENT_REMOVE",
	PacketForwardClientFrom:     "PACKET_FORWARD_CLIENT_FROM",
	PacketForwardClientTo:       "PACKET_FORWARD_CLIENT_TO",
	PacketForwardClientToRepeat: "PACKET_FORWARD_CLIENT_TO_REPEATED",
	PacketReconnectTo:           "PACKET_RECONNECT_TO",
	PacketEmptyPackage:          "EMPTY_PACKAGE",
}

var typeRegistry map[int32]PacketType

func init() {
	typeRegistry = make(map[int32]PacketType, len(typeNames))
	for t := range typeNames {
		if _, dup := typeRegistry[int32(t)]; dup {
			panic(fmt.Sprintf("protocol: duplicate packet type code %d", int32(t)))
		}
		typeRegistry[int32(t)] = t
	}
}

// TypeFromCode resolves a wire code against the registry.
// Unknown codes resolve to PacketNotResolved.
func TypeFromCode(code int32) PacketType {
	if t, ok := typeRegistry[code]; ok {
		return t
	}
	return PacketNotResolved
}

// String returns the protocol name of the packet type.
func (t PacketType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NOT_RESOLVED(%d)", int32(t))
}
