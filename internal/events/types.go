// Package events defines event types and the pub/sub bus connecting the
// relay core to its observers (telemetry, CLI, shutdown handling).
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Room lifecycle
	EventRoomCreated   EventType = "room_created"
	EventRoomClosed    EventType = "room_closed"
	EventAdminMigrated EventType = "admin_migrated"

	// Membership
	EventPlayerJoined EventType = "player_joined"
	EventPlayerLeft   EventType = "player_left"

	// Moderation
	EventPlayerKicked EventType = "player_kicked"
	EventIPBanned     EventType = "ip_banned"
	EventIPUnbanned   EventType = "ip_unbanned"

	// System
	EventHealthAlert EventType = "health_alert"
	EventShutdown    EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// RoomPayload accompanies room lifecycle events.
type RoomPayload struct {
	RoomID  string `json:"room_id"`
	IsMod   bool   `json:"is_mod"`
	Members int    `json:"members"`
}

// PlayerPayload accompanies membership and moderation events.
type PlayerPayload struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Site     int32  `json:"site"`
	Reason   string `json:"reason,omitempty"`
}

// BanPayload accompanies server-wide ban events.
type BanPayload struct {
	Block string `json:"block"`
}

// HealthAlertPayload accompanies health check alerts.
type HealthAlertPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
}
