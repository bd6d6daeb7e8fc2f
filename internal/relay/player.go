package relay

import (
	"sync"

	"github.com/relaygate-project/relaygate/internal/abuse"
)

// PlayerState is the per-player moderation record, keyed by the stable
// player id the peer supplies at registration. It survives individual
// disconnect and reconnect within one room's lifetime. The mutable fields
// are touched from more than one session goroutine (the member's own and
// the admin's, during kick and team-list interception), so access goes
// through the struct's lock.
type PlayerState struct {
	PlayerID string
	Name     string

	// Chat-repeat detection
	Repeat *abuse.RepeatCounter

	mu        sync.Mutex
	lastChat  string
	connected bool
	team      int32
}

// NewPlayerState creates the record on first registration.
func NewPlayerState(playerID, name string) *PlayerState {
	return &PlayerState{
		PlayerID:  playerID,
		Name:      name,
		Repeat:    abuse.NewRepeatCounter(abuse.DefaultRepeatLimit, abuse.DefaultRepeatWindow),
		connected: true,
		team:      -1,
	}
}

// Connected reports whether a live session currently carries this record.
func (p *PlayerState) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PlayerState) SetConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Team returns the team index assigned by the host, -1 before any
// team-list packet named this player.
func (p *PlayerState) Team() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.team
}

func (p *PlayerState) SetTeam(team int32) {
	p.mu.Lock()
	p.team = team
	p.mu.Unlock()
}

// RepeatsLast reports whether msg repeats the previous chat line. A
// changed line becomes the new reference without clearing the repeat
// counter; only window expiry does that.
func (p *PlayerState) RepeatsLast(msg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg == p.lastChat {
		return true
	}
	p.lastChat = msg
	return false
}
