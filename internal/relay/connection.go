package relay

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/protocol"
)

// Status is the connection's position in the handshake.
type Status int

const (
	// StatusInitialConnection covers everything up to and including room
	// selection: first contact, challenge, prompt replies.
	StatusInitialConnection Status = iota

	// StatusPlayerPermission means the connection belongs to a room and
	// its packets participate in forwarding.
	StatusPlayerPermission
)

// ErrHandshakeViolation closes connections that send packets outside the
// order the handshake allows.
var ErrHandshakeViolation = errors.New("relay: handshake violation")

// Connection is one game client session. All Handle* calls run on the
// session's single read goroutine; the mutex only covers the identity
// fields other goroutines read during forwarding and migration.
type Connection struct {
	server    *Server
	transport Transport
	logger    zerolog.Logger

	mu               sync.Mutex
	closed           bool
	site             int32
	name             string
	registerPlayerID string
	player           *PlayerState
	room             *Room
	cachedFirst      *protocol.Packet

	status        Status
	clientVersion int32
	betaClient    bool
	challenge     *abuse.Challenge
	presetRoom    *Room
}

// NewConnection wraps an admitted transport. The caller owns the read
// loop and feeds decoded packets into HandlePacket.
func NewConnection(server *Server, transport Transport) *Connection {
	return &Connection{
		server:        server,
		transport:     transport,
		site:          -1,
		clientVersion: 151,
		logger: log.With().
			Str("component", "connection").
			Str("remote", transport.RemoteAddr()).
			Logger(),
	}
}

// Site returns the room-scoped index, -1 before any room is joined.
func (c *Connection) Site() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site
}

func (c *Connection) setSite(site int32) {
	c.mu.Lock()
	c.site = site
	c.mu.Unlock()
}

// Name returns the player name learned during the handshake, if any.
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// PlayerID returns the stable id from the registration packet.
func (c *Connection) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerPlayerID
}

// Player returns the moderation record, nil before registration.
func (c *Connection) Player() *PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// Room returns the room this connection belongs to, nil during handshake.
func (c *Connection) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Connection) setRoom(room *Room) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// RemoteAddr exposes the transport's peer address.
func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// remoteIP is the address with any port stripped, as used in ban keys.
func (c *Connection) remoteIP() string {
	addr := c.transport.RemoteAddr()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (c *Connection) cachedFirstPacket() *protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedFirst
}

// SetPresetRoom pins the room the connection will be placed into after
// inspection, bypassing the selection prompt. Used for reconnects.
func (c *Connection) SetPresetRoom(room *Room) {
	c.presetRoom = room
}

// HandlePacket dispatches one decoded frame. A non-nil error is fatal;
// the network layer tears the session down in response.
func (c *Connection) HandlePacket(p *protocol.Packet) error {
	switch p.Type {
	case protocol.PacketHeartBeat:
		return c.handleHeartBeat(p)
	case protocol.PacketPreregisterInfoRecv:
		return c.handleFirstContact(p)
	case protocol.PacketRelayPowReceive:
		return c.handleChallengeAnswer(p)
	case protocol.PacketRelayServerTypeReply:
		return c.handleSelectionReply(p)
	case protocol.PacketRegisterPlayer:
		return c.handleRegister(p)
	case protocol.PacketChatReceive:
		return c.handleChat(p)
	case protocol.PacketForwardClientTo, protocol.PacketForwardClientToRepeat:
		return c.handleHostForward(p)
	case protocol.PacketStartGame:
		return c.handleStartGame(p)
	case protocol.PacketDisconnect:
		c.Disconnect()
		return nil
	default:
		if c.status == StatusPlayerPermission {
			c.sendToHost(p)
			return nil
		}
		c.logger.Debug().Stringer("type", p.Type).Msg("packet dropped before room entry")
		return nil
	}
}

// handleFirstContact caches the client's opening packet for later
// re-delivery, answers with the relay's identity, and either issues the
// admission challenge or moves straight to inspection.
func (c *Connection) handleFirstContact(p *protocol.Packet) error {
	if c.status == StatusPlayerPermission {
		c.logger.Debug().Msg("first contact after room entry dropped")
		return nil
	}
	c.mu.Lock()
	c.cachedFirst = p
	c.mu.Unlock()

	c.sendPacket(protocol.RelayServerInfo())

	if c.server.cfg.ProofOfWorkEnabled {
		c.challenge = abuse.RandomChallenge()
		c.sendPacket(c.challenge.Packet())
		return nil
	}
	return c.inspectFirstContact()
}

func (c *Connection) handleChallengeAnswer(p *protocol.Packet) error {
	if c.challenge == nil {
		return ErrHandshakeViolation
	}
	r := protocol.NewReader(p.Payload)
	a, err := r.ReadInt()
	if err != nil {
		return err
	}
	b, err := r.ReadInt()
	if err != nil {
		return err
	}
	s, err := r.ReadString()
	if err != nil {
		return err
	}
	if !c.challenge.Verify(a, b, s) {
		// The challenge stays outstanding; the client may answer again
		// or sit in InitialConnection until the transport reaps it.
		c.logger.Warn().Msg("admission challenge failed, awaiting retry")
		return nil
	}
	c.challenge = nil
	return c.inspectFirstContact()
}

// inspectFirstContact parses the cached opening packet: client version,
// beta flag and (newer clients) an inline room query. A blank query, or
// one equal to the reserved keyword, falls back to the selection prompt.
func (c *Connection) inspectFirstContact() error {
	first := c.cachedFirstPacket()
	if first == nil {
		return ErrHandshakeViolation
	}
	r := protocol.NewReader(first.Payload)
	if _, err := r.ReadString(); err != nil {
		return err
	}
	packetVersion, err := r.ReadInt()
	if err != nil {
		return err
	}
	version, err := r.ReadInt()
	if err != nil {
		return err
	}
	c.clientVersion = version
	c.betaClient = isBetaVersion(version)

	query := ""
	if packetVersion >= 1 {
		if err := r.Skip(4); err != nil {
			return err
		}
	}
	if packetVersion >= 2 {
		if query, err = r.ReadIsString(); err != nil {
			return err
		}
	}
	if packetVersion >= 3 {
		name, err := r.ReadString()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.name = name
		c.mu.Unlock()
	}

	if c.presetRoom != nil {
		return c.joinRoom(c.presetRoom)
	}
	if query == "" || strings.EqualFold(query, c.server.cfg.ReservedKeyword) {
		c.sendSelectionPrompt(msgGreeting(c.server.Version))
		return nil
	}
	return c.applySelection(query)
}

// handleSelectionReply runs the room-selection grammar on a prompt reply.
// The handshake is forward-only: once the connection holds a seat, replays
// of the selection packet are dropped so room bookkeeping stays intact.
func (c *Connection) handleSelectionReply(p *protocol.Packet) error {
	if c.status == StatusPlayerPermission {
		c.logger.Debug().Msg("selection reply after room entry dropped")
		return nil
	}
	input, err := protocol.ParseRelayServerTypeReply(p)
	if err != nil {
		return err
	}
	return c.applySelection(input)
}

// applySelection runs the room-selection grammar and acts on the result.
// Grammar errors are reported through the prompt and keep the session
// open for another attempt.
func (c *Connection) applySelection(input string) error {
	sel, serr := ParseRoomSelection(input, c.server.cfg.RedirectDomain)
	if serr != nil {
		c.sendSelectionPrompt(serr.Message)
		return nil
	}

	switch sel.Kind {
	case SelectRedirect:
		c.sendPacket(protocol.Redirect(sel.RedirectHost))
		c.Disconnect()
		return nil

	case SelectJoin:
		room, ok := c.server.Rooms.Get(sel.ID)
		if !ok || room.Destroyed() {
			c.sendSelectionPrompt(msgNoSuchRoom(sel.ID))
			return nil
		}
		return c.joinRoom(room)

	case SelectCreateReserved:
		room, err := c.server.Rooms.CreateWithID(sel.ID, RoomOptions{
			Mod:        sel.Mod,
			MaxPlayers: c.roomMaxPlayers(sel.Custom),
		})
		if errors.Is(err, ErrRoomTaken) {
			c.sendSelectionPrompt(msgReservedIDRetry)
			return nil
		}
		if err != nil {
			return err
		}
		return c.createAsAdmin(room, sel.Custom)

	default: // SelectCreateAuto
		room := c.server.Rooms.CreateGenerated(RoomOptions{
			Mod:        sel.Mod,
			MaxPlayers: c.roomMaxPlayers(sel.Custom),
		})
		return c.createAsAdmin(room, sel.Custom)
	}
}

func (c *Connection) roomMaxPlayers(custom CustomSettings) int {
	if custom.MaxPlayers != -1 {
		return custom.MaxPlayers
	}
	return c.server.cfg.DefaultMaxPlayers
}

// createAsAdmin seats the creator in its fresh room and runs the host
// handshake. The creator is an ordinary member too; it takes site 0 so
// forwarded frames can reference the host like anyone else.
func (c *Connection) createAsAdmin(room *Room, custom CustomSettings) error {
	site, err := room.AddMember(c)
	if err != nil {
		c.sendSelectionPrompt(msgNoSuchRoom(room.ID))
		return nil
	}
	c.setSite(site)
	c.setRoom(room)
	c.status = StatusPlayerPermission

	if custom.Customized() {
		for _, p := range customModePackets(c.clientVersion, room.UUID, custom) {
			c.sendPacket(p)
		}
	}

	if err := c.becomeAdmin(room); err != nil {
		return err
	}

	if custom.Announced() {
		maxPlayers := custom.MaxPlayers
		if maxPlayers == -1 {
			maxPlayers = c.server.cfg.DefaultMaxPlayers
		}
		c.sendPacket(protocol.ChatMessage(msgCustomApplied(maxPlayers, custom.MaxUnits), msgChatSender, 5))
	}
	return nil
}

// becomeAdmin installs the connection as the room's admin and sends the
// host handshake. Shared by room creation and migration.
func (c *Connection) becomeAdmin(room *Room) error {
	room.SetAdmin(c)

	publicID := c.server.cfg.RoomIDPrefix + room.ID
	c.sendPacket(forwardHostSet(c.clientVersion, room.UUID, room.IsMod, publicID, c.PlayerID()))
	c.sendPacket(protocol.ChatMessage(msgAdminConnected(publicID), msgAdminChatSender, 5))

	// Clients whose engine identifies itself as the server are trying to
	// spoof relay control traffic.
	name := c.Name()
	if strings.EqualFold(name, "SERVER") || strings.EqualFold(name, "RELAY") {
		c.logger.Warn().Str("name", name).Msg("forbidden host name, destroying room")
		c.server.Rooms.Destroy(room)
		c.Disconnect()
		return nil
	}

	c.logger.Info().Str("room_id", room.ID).Msg("admin installed")
	return nil
}

// joinRoom seats the connection as a regular member and introduces it to
// the current admin: first the site announcement, then the cached opening
// packet wrapped in a forwarding envelope so the host engine sees the
// original handshake bytes.
func (c *Connection) joinRoom(room *Room) error {
	site, err := room.AddMember(c)
	if errors.Is(err, ErrRoomFull) {
		c.sendSelectionPrompt(msgRoomFull)
		return nil
	}
	if err != nil {
		c.sendSelectionPrompt(msgNoSuchRoom(room.ID))
		return nil
	}
	c.setSite(site)
	c.setRoom(room)
	c.status = StatusPlayerPermission

	if admin := room.Admin(); admin != nil {
		admin.sendPacket(forwardClientAdd(admin.clientVersion, site, c.PlayerID(), c.remoteIP()))
		if first := c.cachedFirstPacket(); first != nil {
			inner := protocol.NewPacket(protocol.PacketPreregisterInfoRecv, first.Payload)
			admin.sendPacket(protocol.ForwardEnvelope(site, inner))
		}
	}

	publicID := c.server.cfg.RoomIDPrefix + room.ID
	c.sendPacket(protocol.ChatMessage(msgJoinedRoom(publicID), msgChatSender, 5))

	c.server.emit(events.EventPlayerJoined, events.PlayerPayload{
		RoomID: room.ID,
		Site:   site,
		Name:   c.Name(),
	})
	return nil
}

// handleRegister learns the connection's player identity, applies the
// room's kick and ban ledgers, then forwards the registration to the host
// like any other client packet.
func (c *Connection) handleRegister(p *protocol.Packet) error {
	if c.PlayerID() == "" {
		c.parseRegister(p)
	}
	if c.status != StatusPlayerPermission {
		return nil
	}
	room := c.Room()
	if room == nil {
		return nil
	}

	if c.Player() == nil {
		playerID := c.PlayerID()
		ip := c.remoteIP()
		if room.KickLedger.IsBanned(ip) {
			c.KickWith(msgRoomBanned)
			return nil
		}
		if room.KickLedger.IsKicked(playerID, ip) {
			c.KickWith(msgRoomKicked)
			return nil
		}
		player, ok := room.LookupPlayer(playerID)
		if !ok {
			player = room.Player(playerID, c.Name())
		}
		player.SetConnected(true)
		c.mu.Lock()
		c.player = player
		c.mu.Unlock()
	}

	c.sendToHost(p)
	return nil
}

// parseRegister pulls name and player id out of the registration packet.
// Parse failures leave the identity blank; the packet still forwards.
func (c *Connection) parseRegister(p *protocol.Packet) {
	r := protocol.NewReader(p.Payload)
	if _, err := r.ReadString(); err != nil {
		return
	}
	if err := r.Skip(12); err != nil {
		return
	}
	name, err := r.ReadString()
	if err != nil {
		return
	}
	if _, err := r.ReadIsString(); err != nil {
		return
	}
	if _, err := r.ReadString(); err != nil {
		return
	}
	playerID, err := r.ReadString()
	if err != nil {
		return
	}
	c.mu.Lock()
	c.name = name
	c.registerPlayerID = playerID
	c.mu.Unlock()
}

// handleChat gates player chat: relay commands go to the command handler,
// repeated messages hit the spam counter, everything else forwards to the
// host verbatim.
func (c *Connection) handleChat(p *protocol.Packet) error {
	player := c.Player()
	room := c.Room()
	if player == nil || room == nil {
		c.Disconnect()
		return nil
	}

	r := protocol.NewReader(p.Payload)
	msg, err := r.ReadString()
	if err != nil {
		return err
	}

	if strings.HasPrefix(msg, ".") || strings.HasPrefix(msg, "-") {
		if c.server.Chat != nil {
			if reply, handled := c.server.Chat.HandleChatCommand(c, room, msg); handled {
				if reply != "" {
					c.sendPacket(protocol.SystemMessage(reply))
				}
				return nil
			}
		}
		c.sendToHost(p)
		return nil
	}

	if room.AllMute() {
		return nil
	}

	if player.RepeatsLast(msg) {
		if player.Repeat.Trip() {
			ip := c.remoteIP()
			room.KickLedger.KickPlayer(player.PlayerID, abuse.DefaultKickDuration)
			room.KickLedger.KickIP(abuse.IPBlock24(ip), abuse.DefaultKickDuration)
			c.server.emit(events.EventPlayerKicked, events.PlayerPayload{
				RoomID:   room.ID,
				PlayerID: player.PlayerID,
				Name:     player.Name,
				Site:     c.Site(),
				Reason:   "chat spam",
			})
			c.KickWith(msgSpamKick)
			return nil
		}
		c.sendPacket(protocol.ChatMessage(msgSpamWarning, msgChatSender, 5))
		return nil
	}

	c.sendToHost(p)
	return nil
}

// handleHostForward processes admin-originated envelopes addressed to a
// member site. Control traffic the relay owns is intercepted; the rest is
// delivered verbatim, silently dropping envelopes whose site is gone.
func (c *Connection) handleHostForward(p *protocol.Packet) error {
	room := c.Room()
	if room == nil || !room.IsAdmin(c) {
		return nil
	}

	site, inner, err := protocol.ParseForwardEnvelope(p)
	if err != nil {
		c.logger.Debug().Err(err).Msg("malformed forwarding envelope")
		return nil
	}

	switch inner.Type {
	case protocol.PacketHeartBeat, protocol.PacketDisconnect:
		return nil

	case protocol.PacketKick:
		target, ok := room.Member(site)
		if !ok {
			return nil
		}
		r := protocol.NewReader(inner.Payload)
		reason, err := r.ReadString()
		if err != nil {
			reason = ""
		}
		target.sendPacket(protocol.KickPacket(stripDigits(reason)))
		if tp := target.Player(); tp != nil {
			tp.SetConnected(false)
		}
		return nil

	case protocol.PacketTeamList:
		if target, ok := room.Member(site); ok {
			target.sendPacket(inner)
		}
		if !room.Started() {
			parseTeamAssignments(inner.Payload, room)
		}
		return nil

	case protocol.PacketStartGame:
		room.SetStarted(true)

	case protocol.PacketReturnToBattleRm:
		room.SetStarted(false)
	}

	if target, ok := room.Member(site); ok {
		target.sendPacket(inner)
	} else {
		c.logger.Debug().Int32("site", site).Msg("forward target gone")
	}
	return nil
}

// handleStartGame flips the room into its started phase when the admin's
// engine announces the launch directly rather than per-site.
func (c *Connection) handleStartGame(p *protocol.Packet) error {
	room := c.Room()
	if room == nil {
		return nil
	}
	if room.IsAdmin(c) {
		room.SetStarted(true)
		for _, m := range room.Members() {
			if m != c {
				m.sendPacket(p)
			}
		}
		return nil
	}
	c.sendToHost(p)
	return nil
}

func (c *Connection) handleHeartBeat(p *protocol.Packet) error {
	resp, err := protocol.HeartBeatResponse(p)
	if err != nil {
		return err
	}
	c.sendPacket(resp)
	return nil
}

// sendToHost wraps the packet in a forwarding envelope carrying this
// connection's site and delivers it to the room's admin. Without an admin
// the packet is dropped.
func (c *Connection) sendToHost(p *protocol.Packet) {
	room := c.Room()
	if room == nil {
		return
	}
	admin := room.Admin()
	if admin == nil {
		c.logger.Debug().Stringer("type", p.Type).Msg("no admin, packet dropped")
		return
	}
	admin.sendPacket(protocol.ForwardEnvelope(c.Site(), p))
}

func (c *Connection) sendSelectionPrompt(msg string) {
	c.sendPacket(protocol.RelayServerTypePrompt(msg))
}

// sendPacket is fire-and-forget: a failed write is logged and the
// session left to its read loop to notice the close.
func (c *Connection) sendPacket(p *protocol.Packet) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.transport.SendPacket(p); err != nil {
		c.logger.Debug().Err(err).Stringer("type", p.Type).Msg("send failed")
	}
}

// KickWith delivers the kick message and closes the session.
func (c *Connection) KickWith(reason string) {
	c.sendPacket(protocol.KickPacket(reason))
	c.Disconnect()
}

// Disconnect removes the connection from its room and, when it held the
// admin role, either migrates the role or tears the room down. Idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	room := c.room
	c.mu.Unlock()

	defer c.closeTransport()

	if room == nil {
		return
	}

	wasAdmin := room.IsAdmin(c)
	room.RemoveMember(c.Site())

	if player := c.Player(); player != nil {
		player.SetConnected(false)
	}

	errorClose := false
	if !wasAdmin {
		if room.Admin() != nil {
			c.notifyHostOfExit(room)
			if !room.Started() {
				room.DropPlayer(c.PlayerID())
			}
		}
		c.server.emit(events.EventPlayerLeft, events.PlayerPayload{
			RoomID:   room.ID,
			PlayerID: c.PlayerID(),
			Name:     c.Name(),
			Site:     c.Site(),
		})
	} else {
		room.SetAdmin(nil)
		if room.Started() && room.Len() > 0 {
			if err := c.migrateAdmin(room); err != nil {
				c.logger.Warn().Err(err).Str("room_id", room.ID).Msg("admin migration failed")
				errorClose = true
			}
		} else {
			c.server.Rooms.Destroy(room)
			return
		}
	}

	if (room.Len() <= 0 && !room.Permanent()) || errorClose {
		c.server.Rooms.Destroy(room)
	}
}

// notifyHostOfExit tells the admin's engine the site left. State is
// already updated by the time this best-effort send happens.
func (c *Connection) notifyHostOfExit(room *Room) {
	admin := room.Admin()
	if admin == nil {
		return
	}
	admin.sendPacket(protocol.ForwardEnvelope(c.Site(), protocol.ExitPacket()))
	admin.sendPacket(protocol.ClientRemove(c.Site()))
}

// migrateAdmin promotes the surviving member with the lowest site and
// replays every member's introduction to it, preserving site indexes so
// in-flight game state stays addressable.
func (c *Connection) migrateAdmin(room *Room) error {
	next := room.MinSiteMember()
	if next == nil {
		return errors.New("relay: no migration candidate")
	}

	if err := next.becomeAdmin(room); err != nil {
		return err
	}
	next.sendPacket(protocol.ChatMessage(msgAdminLeft, msgAdminChatSender, 5))

	for _, m := range room.Members() {
		next.sendPacket(forwardClientAdd(next.clientVersion, m.Site(), m.PlayerID(), m.remoteIP()))
		if first := m.cachedFirstPacket(); first != nil {
			inner := protocol.NewPacket(protocol.PacketPreregisterInfoRecv, first.Payload)
			next.sendPacket(protocol.ForwardEnvelope(m.Site(), inner))
		}
	}

	c.server.emit(events.EventAdminMigrated, events.RoomPayload{
		RoomID:  room.ID,
		IsMod:   room.IsMod,
		Members: room.Len(),
	})
	c.logger.Info().Str("room_id", room.ID).Int32("new_admin_site", next.Site()).Msg("admin migrated")
	return nil
}

// closeTransport shuts the byte stream. Used by Disconnect and by room
// teardown, which closes every member's transport directly.
func (c *Connection) closeTransport() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err := c.transport.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("transport close")
	}
}
