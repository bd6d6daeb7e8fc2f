package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/protocol"
)

// ErrRoomClosed is returned when joining a room that is being torn down.
var ErrRoomClosed = errors.New("relay: room closed")

// ErrRoomFull is returned when a join would exceed the player limit.
var ErrRoomFull = errors.New("relay: room full")

// RoomOptions captures the creation-time knobs of a room.
type RoomOptions struct {
	Mod        bool
	MaxPlayers int
	Permanent  bool
}

// Room is one forwarding group: exactly one admin (or none, briefly) and a
// roster of member connections indexed by site. All membership, site
// numbering and admin changes happen under the room's single mutex so
// concurrent join/leave/migration cannot lose updates.
type Room struct {
	mu sync.Mutex

	// Immutable after creation.
	ID         string
	UUID       string
	CreatedAt  time.Time
	MaxPlayers int

	IsMod bool

	admin    *Connection
	members  map[int32]*Connection
	nextSite int32

	started   bool
	permanent bool
	allMute   bool
	destroyed bool

	// Moderation state scoped to the room's admin lifetime.
	KickLedger *abuse.KickLedger
	players    map[string]*PlayerState

	logger zerolog.Logger
}

// NewRoom builds an empty room. Callers go through the Registry, which
// owns id uniqueness.
func NewRoom(id string, opts RoomOptions) *Room {
	maxPlayers := opts.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = 10
	}
	return &Room{
		ID:         id,
		UUID:       uuid.NewString(),
		CreatedAt:  time.Now(),
		MaxPlayers: maxPlayers,
		IsMod:      opts.Mod,
		members:    make(map[int32]*Connection),
		permanent:  opts.Permanent,
		KickLedger: abuse.NewKickLedger(),
		players:    make(map[string]*PlayerState),
		logger:     log.With().Str("component", "room").Str("room_id", id).Logger(),
	}
}

// AddMember registers the connection under a freshly allocated site index.
// Site numbers are monotonic and never reused within a room's lifetime.
func (r *Room) AddMember(c *Connection) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return -1, ErrRoomClosed
	}
	if len(r.members) >= r.MaxPlayers {
		return -1, ErrRoomFull
	}

	site := r.nextSite
	r.nextSite++
	r.members[site] = c

	r.logger.Debug().Int32("site", site).Str("remote", c.RemoteAddr()).Msg("member added")
	return site, nil
}

// RemoveMember drops the member at the given site, if still present.
func (r *Room) RemoveMember(site int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, site)
}

// Member looks up a member by site index.
func (r *Room) Member(site int32) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.members[site]
	return c, ok
}

// Members returns the current roster sorted by site index.
func (r *Room) Members() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Connection, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site() < out[j].Site() })
	return out
}

// Len returns the current member count (the admin is a member too).
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// MinSiteMember returns the member with the lowest surviving site index,
// the one migration promotes.
func (r *Room) MinSiteMember() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Connection
	var bestSite int32
	for site, c := range r.members {
		if best == nil || site < bestSite {
			best, bestSite = c, site
		}
	}
	return best
}

// Admin returns the current admin connection, or nil.
func (r *Room) Admin() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admin
}

// SetAdmin installs the connection as the room's admin.
func (r *Room) SetAdmin(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admin = c
}

// IsAdmin reports whether c currently holds the admin role.
func (r *Room) IsAdmin(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admin == c
}

// Player returns the moderation record for a stable player id, creating it
// on first registration.
func (r *Room) Player(playerID, name string) *PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.players[playerID]; ok {
		return p
	}
	p := NewPlayerState(playerID, name)
	r.players[playerID] = p
	return p
}

// LookupPlayer returns a moderation record without creating one.
func (r *Room) LookupPlayer(playerID string) (*PlayerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	return p, ok
}

// DropPlayer removes the moderation record, used when a member leaves
// before the game starts.
func (r *Room) DropPlayer(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, playerID)
}

// ResetPlayers clears the moderation registry and kick ledger, so the
// records do not outlive the room at teardown.
func (r *Room) ResetPlayers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players = make(map[string]*PlayerState)
	r.KickLedger = abuse.NewKickLedger()
}

// Started reports whether the room's game is running.
func (r *Room) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// SetStarted flags game start, and back to the lobby on return-to-lobby.
func (r *Room) SetStarted(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = v
}

// AllMute reports the room-wide chat mute flag.
func (r *Room) AllMute() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allMute
}

// SetAllMute toggles the room-wide chat mute flag.
func (r *Room) SetAllMute(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allMute = v
}

// Permanent reports whether the room survives at zero members.
func (r *Room) Permanent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permanent
}

// Destroyed reports whether teardown has begun.
func (r *Room) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Broadcast delivers the packet to every member, admin included.
func (r *Room) Broadcast(p *protocol.Packet) {
	for _, c := range r.Members() {
		c.sendPacket(p)
	}
}

// closeAll marks the room destroyed and closes every connection. The
// registry calls this during teardown; individual disconnect handlers then
// find the room already destroyed and skip a second teardown.
func (r *Room) closeAll() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	conns := make([]*Connection, 0, len(r.members)+1)
	for _, c := range r.members {
		conns = append(conns, c)
	}
	if r.admin != nil && r.members[r.admin.Site()] != r.admin {
		conns = append(conns, r.admin)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.closeTransport()
	}
	r.logger.Info().Int("connections", len(conns)).Msg("room closed")
}
