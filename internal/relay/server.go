package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/events"
)

// ErrBanned rejects connections from server-banned address blocks before
// any protocol exchange happens.
var ErrBanned = errors.New("relay: address banned")

// ChatCommandHandler receives chat lines starting with '.' or '-'. The
// bool result reports whether the command was consumed; unconsumed lines
// forward to the room host like regular chat.
type ChatCommandHandler interface {
	HandleChatCommand(c *Connection, room *Room, line string) (reply string, handled bool)
}

// Server ties the relay core together: configuration, the room registry,
// the server-wide ban list and the event bus. The network layer admits
// transports through it.
type Server struct {
	cfg     config.RelayData
	Rooms   *Registry
	Bans    *abuse.BanList
	Chat    ChatCommandHandler
	Version string

	bus    *events.EventBus
	logger zerolog.Logger
}

// NewServer wires the core together. Chat stays nil until a command
// surface registers itself.
func NewServer(cfg config.RelayData, rooms *Registry, bans *abuse.BanList, bus *events.EventBus, version string) *Server {
	return &Server{
		cfg:     cfg,
		Rooms:   rooms,
		Bans:    bans,
		Version: version,
		bus:     bus,
		logger:  log.With().Str("component", "relay").Logger(),
	}
}

// Config returns the relay settings the server was built with.
func (s *Server) Config() config.RelayData {
	return s.cfg
}

// Admit checks the server-wide ban list. Banned peers are refused before
// the handshake; the network layer closes them without a reply.
func (s *Server) Admit(remoteAddr string) error {
	if s.Bans != nil && s.Bans.Contains(remoteAddr) {
		s.logger.Info().Str("remote", remoteAddr).Msg("banned peer refused")
		return ErrBanned
	}
	return nil
}

// NewSession wraps an admitted transport in a connection state machine.
func (s *Server) NewSession(t Transport) *Connection {
	return NewConnection(s, t)
}

// DisconnectRoom force-closes every session in the room and frees its id.
func (s *Server) DisconnectRoom(room *Room) {
	s.Rooms.Destroy(room)
}

func (s *Server) emit(t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "relay",
		Payload: payload,
	})
}
