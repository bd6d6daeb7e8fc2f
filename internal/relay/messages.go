package relay

import "fmt"

// User-visible text sent back to game clients. Kept in one place so a
// message catalog can replace it later without touching the state machine.

const (
	msgEmptySelection   = "Room selection was empty, try again"
	msgEmojiSelection   = "Room ids cannot contain emoji"
	msgReservedIDRetry  = "That id cannot be used, pick another (3-7 characters)"
	msgMaxPlayersRange  = "Player limit must be between 0 and 100"
	msgMaxUnitsRange    = "Unit limit must not be negative"
	msgIncomeRange      = "Income multiplier must not be negative"
	msgSpamWarning      = "You are repeating yourself, stop"
	msgSpamKick         = "Kicked for repeating the same message"
	msgRoomFull         = "That room is full, pick another"
	msgRoomBanned       = "You are banned from this room, wait a while or pick another room"
	msgRoomKicked       = "You were kicked from this room, wait a while or pick another room"
	msgServerBanned     = "You are banned from this relay"
	msgAdminLeft        = "Host left, promoting a new host"
	msgChatSender       = "RELAY-Check"
	msgAdminChatSender  = "RELAY-ADMIN"
)

func msgGreeting(version string) string {
	return fmt.Sprintf("Relay %s - enter a room id, or 'new' to host", version)
}

func msgNoSuchRoom(id string) string {
	return fmt.Sprintf("No such room: %s", id)
}

func msgSelectionError(detail string) string {
	return fmt.Sprintf("Invalid room selection: %s", detail)
}

func msgDotForbidden() string {
	return "Room ids cannot contain [ . ]"
}

func msgAdminConnected(publicID string) string {
	return fmt.Sprintf("Room created, id: %s", publicID)
}

func msgJoinedRoom(publicID string) string {
	return fmt.Sprintf("Connected to room %s", publicID)
}

func msgCustomApplied(maxPlayers, maxUnits int) string {
	return fmt.Sprintf("Custom player limit: %d custom unit limit: %d", maxPlayers, maxUnits)
}
