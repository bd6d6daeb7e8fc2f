package relay

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/events"
)

// Registry errors surfaced to the admission path.
var (
	ErrRoomTaken    = errors.New("relay: room id already taken")
	ErrRoomNotFound = errors.New("relay: no such room")
)

// generatedIDLen is the length of auto-generated numeric room ids.
const generatedIDLen = 5

// Registry owns the id → room table. Creation, lookup and teardown all go
// through its lock, so a room is never torn down while a join to the same
// id is resolving, and two concurrent creations can never collide on one
// generated id.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	bus    *events.EventBus
	logger zerolog.Logger
}

// NewRegistry returns an empty registry. bus may be nil in tests.
func NewRegistry(bus *events.EventBus) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		bus:    bus,
		logger: log.With().Str("component", "registry").Logger(),
	}
}

// Get looks up a room by exact id.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// CreateWithID creates a room under a caller-chosen id. Validation of the
// id's grammar happened during selection parsing; the registry only
// enforces uniqueness.
func (g *Registry) CreateWithID(id string, opts RoomOptions) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, taken := g.rooms[id]; taken {
		return nil, ErrRoomTaken
	}
	return g.insertLocked(id, opts), nil
}

// CreateGenerated creates a room under a fresh numeric id.
func (g *Registry) CreateGenerated(opts RoomOptions) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		id := generateID()
		if _, taken := g.rooms[id]; taken {
			continue
		}
		return g.insertLocked(id, opts)
	}
}

func (g *Registry) insertLocked(id string, opts RoomOptions) *Room {
	room := NewRoom(id, opts)
	g.rooms[id] = room

	g.logger.Info().Str("room_id", id).Bool("mod", opts.Mod).Msg("room created")
	g.emit(events.EventRoomCreated, events.RoomPayload{RoomID: id, IsMod: opts.Mod})
	return room
}

// Destroy tears the room down and frees its id for reuse. Safe to call
// more than once; only the first call does work.
func (g *Registry) Destroy(room *Room) {
	g.mu.Lock()
	current, ok := g.rooms[room.ID]
	if ok && current == room {
		delete(g.rooms, room.ID)
	}
	g.mu.Unlock()

	room.closeAll()
	room.ResetPlayers()

	if ok && current == room {
		g.logger.Info().Str("room_id", room.ID).Msg("room destroyed")
		g.emit(events.EventRoomClosed, events.RoomPayload{RoomID: room.ID, IsMod: room.IsMod})
	}
}

// Rooms returns a snapshot of every live room.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

func (g *Registry) emit(t events.EventType, payload interface{}) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(context.Background(), events.Event{Type: t, Source: "registry", Payload: payload})
}

// generateID produces a numeric id, which can never collide with the
// reserved A/B prefixes of custom ids.
func generateID() string {
	id := make([]byte, generatedIDLen)
	for i := range id {
		id[i] = byte('0' + rand.IntN(10))
	}
	return string(id)
}
