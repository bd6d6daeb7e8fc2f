package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/protocol"
)

type fakeTransport struct {
	mu     sync.Mutex
	addr   string
	sent   []*protocol.Packet
	closed bool
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{addr: addr}
}

func (f *fakeTransport) SendPacket(p *protocol.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentTypes() []protocol.PacketType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.PacketType, len(f.sent))
	for i, p := range f.sent {
		out[i] = p.Type
	}
	return out
}

func (f *fakeTransport) lastOfType(t protocol.PacketType) *protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == t {
			return f.sent[i]
		}
	}
	return nil
}

func (f *fakeTransport) countOfType(t protocol.PacketType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.sent {
		if p.Type == t {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	cfg := config.RelayData{
		ListenPort:        5123,
		RoomIDPrefix:      "R",
		RedirectDomain:    "relay.example.com",
		ReservedKeyword:   "RELAYCN",
		DefaultMaxPlayers: 10,
	}
	return NewServer(cfg, NewRegistry(bus), abuse.NewBanList(), bus, "test")
}

// firstContactPacket builds the opening packet a packet-version-3 client
// sends: discriminator, versions, padding, inline room query and name.
func firstContactPacket(query, name string) *protocol.Packet {
	return protocol.NewWriter().
		WriteString("com.corrodinggames.rts").
		WriteInt(3).
		WriteInt(151).
		WriteInt(0).
		WriteIsString(query).
		WriteString(name).
		Packet(protocol.PacketPreregisterInfoRecv)
}

func registerPacket(name, playerID string) *protocol.Packet {
	return protocol.NewWriter().
		WriteString("com.corrodinggames.rts").
		WriteBytes(make([]byte, 12)).
		WriteString(name).
		WriteIsString("").
		WriteString("").
		WriteString(playerID).
		Packet(protocol.PacketRegisterPlayer)
}

func chatPacket(msg string) *protocol.Packet {
	return protocol.NewWriter().WriteString(msg).Packet(protocol.PacketChatReceive)
}

// connectAsHost runs the handshake that creates a fresh room.
func connectAsHost(t *testing.T, srv *Server, addr string) (*Connection, *fakeTransport, *Room) {
	t.Helper()
	tr := newFakeTransport(addr)
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket("new", "host")))

	room := c.Room()
	require.NotNil(t, room, "host handshake must create a room")
	require.True(t, room.IsAdmin(c))
	return c, tr, room
}

// connectAsMember joins an existing room and registers a player identity.
func connectAsMember(t *testing.T, srv *Server, addr, roomID, name, playerID string) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport(addr)
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket(roomID, name)))
	require.NotNil(t, c.Room(), "member must land in room %s", roomID)
	require.NoError(t, c.HandlePacket(registerPacket(name, playerID)))
	return c, tr
}

func TestServerAdmitEnforcesBanList(t *testing.T) {
	srv := newTestServer(t)
	srv.Bans.Add("203.0.113.5")

	assert.ErrorIs(t, srv.Admit("203.0.113.99:4000"), ErrBanned)
	assert.NoError(t, srv.Admit("203.0.114.1:4000"))
}

func TestHostHandshakeCreatesRoom(t *testing.T) {
	srv := newTestServer(t)
	host, tr, room := connectAsHost(t, srv, "10.0.0.1:4000")

	assert.Equal(t, int32(0), host.Site(), "creator takes site 0")
	assert.Equal(t, 1, srv.Rooms.Count())
	assert.Equal(t, 1, room.Len())

	types := tr.sentTypes()
	assert.Contains(t, types, protocol.PacketRelayVersionInfo)
	assert.Contains(t, types, protocol.PacketForwardHostSet)
	assert.Contains(t, types, protocol.PacketChat)
}

func TestBlankQueryFallsBackToPrompt(t *testing.T) {
	srv := newTestServer(t)
	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)

	require.NoError(t, c.HandlePacket(firstContactPacket("", "p")))
	assert.Nil(t, c.Room())
	assert.NotNil(t, tr.lastOfType(protocol.PacketRelayServerType))
}

func TestSelectionGrammarErrorKeepsSessionOpen(t *testing.T) {
	srv := newTestServer(t)
	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)

	require.NoError(t, c.HandlePacket(firstContactPacket("12.34", "p")))
	assert.Nil(t, c.Room())
	assert.False(t, tr.isClosed(), "grammar errors re-prompt instead of closing")
}

func TestJoinUnknownRoomReprompts(t *testing.T) {
	srv := newTestServer(t)
	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)

	require.NoError(t, c.HandlePacket(firstContactPacket("99999", "p")))
	assert.Nil(t, c.Room())
	assert.NotNil(t, tr.lastOfType(protocol.PacketRelayServerType))
}

func TestRedirectSelectionClosesSession(t *testing.T) {
	srv := newTestServer(t)
	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)

	require.NoError(t, c.HandlePacket(firstContactPacket("RA7", "p")))
	assert.NotNil(t, tr.lastOfType(protocol.PacketReconnectTo))
	assert.True(t, tr.isClosed())
}

func TestJoinIntroducesMemberToAdmin(t *testing.T) {
	srv := newTestServer(t)
	_, hostTr, room := connectAsHost(t, srv, "10.0.0.1:4000")

	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	assert.Equal(t, int32(1), member.Site())
	assert.Equal(t, 2, room.Len())

	// The admin sees the site announcement and the member's original
	// opening bytes wrapped in a forwarding envelope.
	add := hostTr.lastOfType(protocol.PacketForwardClientAdd)
	require.NotNil(t, add)
	env := hostTr.lastOfType(protocol.PacketForwardClientFrom)
	require.NotNil(t, env)

	site, inner, err := protocol.ParseForwardEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, int32(1), site)
	assert.Equal(t, protocol.PacketPreregisterInfoRecv, inner.Type)

	assert.NotNil(t, memberTr.lastOfType(protocol.PacketChat))
}

func TestJoinFullRoomReprompts(t *testing.T) {
	srv := newTestServer(t)
	room, err := srv.Rooms.CreateWithID("tiny1", RoomOptions{MaxPlayers: 1})
	require.NoError(t, err)
	_, err = room.AddMember(srv.NewSession(newFakeTransport("10.0.0.1:1")))
	require.NoError(t, err)

	tr := newFakeTransport("10.0.0.2:4000")
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket("tiny1", "p")))
	assert.Nil(t, c.Room())
	assert.NotNil(t, tr.lastOfType(protocol.PacketRelayServerType))
}

func TestClientPacketsForwardToHost(t *testing.T) {
	srv := newTestServer(t)
	_, hostTr, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	before := hostTr.countOfType(protocol.PacketForwardClientFrom)
	game := protocol.NewPacket(protocol.PacketGameCommandReceive, []byte{1, 2, 3})
	require.NoError(t, member.HandlePacket(game))

	require.Equal(t, before+1, hostTr.countOfType(protocol.PacketForwardClientFrom))
	env := hostTr.lastOfType(protocol.PacketForwardClientFrom)
	site, inner, err := protocol.ParseForwardEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, member.Site(), site)
	assert.Equal(t, protocol.PacketGameCommandReceive, inner.Type)
	assert.Equal(t, []byte{1, 2, 3}, inner.Payload)
}

func TestHostForwardDeliversToSite(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	inner := protocol.NewPacket(protocol.PacketServerInfo, []byte{7})
	env := protocol.NewPacket(protocol.PacketForwardClientTo,
		protocol.ForwardEnvelope(member.Site(), inner).Payload)

	require.NoError(t, host.HandlePacket(env))

	got := memberTr.lastOfType(protocol.PacketServerInfo)
	require.NotNil(t, got)
	assert.Equal(t, []byte{7}, got.Payload)
}

func TestHostForwardIgnoredFromNonAdmin(t *testing.T) {
	srv := newTestServer(t)
	_, hostTr, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	env := protocol.NewPacket(protocol.PacketForwardClientTo,
		protocol.ForwardEnvelope(0, protocol.NewPacket(protocol.PacketServerInfo, nil)).Payload)

	before := len(hostTr.sentTypes())
	require.NoError(t, member.HandlePacket(env))
	assert.Len(t, hostTr.sentTypes(), before, "non-admin envelopes are dropped")
}

func TestHostForwardInterceptsKickAndStripsDigits(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	kick := protocol.NewWriter().WriteString("cheating42").Packet(protocol.PacketKick)
	env := protocol.NewPacket(protocol.PacketForwardClientTo,
		protocol.ForwardEnvelope(member.Site(), kick).Payload)
	require.NoError(t, host.HandlePacket(env))

	got := memberTr.lastOfType(protocol.PacketKick)
	require.NotNil(t, got)
	reason, err := protocol.ReaderFor(got).ReadString()
	require.NoError(t, err)
	assert.Equal(t, "cheating", reason)
	assert.False(t, member.Player().Connected())
}

func TestHostForwardDropsHeartbeatAndDisconnect(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	before := len(memberTr.sentTypes())
	for _, inner := range []*protocol.Packet{
		protocol.NewPacket(protocol.PacketHeartBeat, nil),
		protocol.NewPacket(protocol.PacketDisconnect, nil),
	} {
		env := protocol.NewPacket(protocol.PacketForwardClientTo,
			protocol.ForwardEnvelope(member.Site(), inner).Payload)
		require.NoError(t, host.HandlePacket(env))
	}
	assert.Len(t, memberTr.sentTypes(), before)
}

func TestStartGameEnvelopeFlipsRoomState(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	env := protocol.NewPacket(protocol.PacketForwardClientTo,
		protocol.ForwardEnvelope(member.Site(), protocol.NewPacket(protocol.PacketStartGame, nil)).Payload)
	require.NoError(t, host.HandlePacket(env))
	assert.True(t, room.Started())

	env = protocol.NewPacket(protocol.PacketForwardClientTo,
		protocol.ForwardEnvelope(member.Site(), protocol.NewPacket(protocol.PacketReturnToBattleRm, nil)).Payload)
	require.NoError(t, host.HandlePacket(env))
	assert.False(t, room.Started())
}

func TestStartGameFromAdminBroadcasts(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	_, aliceTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")
	_, bobTr := connectAsMember(t, srv, "10.0.0.3:4000", room.ID, "bob", "id-bob")

	require.NoError(t, host.HandlePacket(protocol.NewPacket(protocol.PacketStartGame, nil)))

	assert.True(t, room.Started())
	assert.NotNil(t, aliceTr.lastOfType(protocol.PacketStartGame))
	assert.NotNil(t, bobTr.lastOfType(protocol.PacketStartGame))
}

func TestSpamKickSequence(t *testing.T) {
	srv := newTestServer(t)
	_, hostTr, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	// The first occurrence forwards and arms the repeat detector.
	require.NoError(t, member.HandlePacket(chatPacket("spam spam")))
	forwarded := hostTr.countOfType(protocol.PacketForwardClientFrom)

	// Repeats below the threshold warn and drop.
	for i := 0; i < abuse.DefaultRepeatLimit-1; i++ {
		require.NoError(t, member.HandlePacket(chatPacket("spam spam")))
		assert.False(t, memberTr.isClosed(), "repeat %d must only warn", i+1)
	}
	assert.Equal(t, forwarded, hostTr.countOfType(protocol.PacketForwardClientFrom),
		"warned repeats must not reach the host")
	assert.GreaterOrEqual(t, memberTr.countOfType(protocol.PacketChat), abuse.DefaultRepeatLimit-1)

	// The repeat that reaches the limit kicks and books both ledger keys.
	require.NoError(t, member.HandlePacket(chatPacket("spam spam")))
	assert.True(t, memberTr.isClosed())
	assert.NotNil(t, memberTr.lastOfType(protocol.PacketKick))
	assert.True(t, room.KickLedger.IsKicked("id-alice", "198.51.100.99"))
	assert.True(t, room.KickLedger.IsKicked("someone-else", "10.0.0.2"))
}

func TestKickedPlayerRejectedAtRegistration(t *testing.T) {
	srv := newTestServer(t)
	_, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	room.KickLedger.KickPlayer("id-alice", abuse.DefaultKickDuration)

	tr := newFakeTransport("10.0.0.9:4000")
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket(room.ID, "alice")))
	require.NoError(t, c.HandlePacket(registerPacket("alice", "id-alice")))

	assert.NotNil(t, tr.lastOfType(protocol.PacketKick))
	assert.True(t, tr.isClosed())
}

func TestChangedMessageDoesNotResetWindow(t *testing.T) {
	srv := newTestServer(t)
	_, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	require.NoError(t, member.HandlePacket(chatPacket("hello")))
	require.NoError(t, member.HandlePacket(chatPacket("hello")))
	require.NoError(t, member.HandlePacket(chatPacket("different")))
	require.NoError(t, member.HandlePacket(chatPacket("different")))

	// The counter carries across the message change.
	assert.Equal(t, 2, member.Player().Repeat.Count())
	assert.False(t, memberTr.isClosed())
}

func TestAllMuteDropsChat(t *testing.T) {
	srv := newTestServer(t)
	_, hostTr, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	room.SetAllMute(true)
	before := hostTr.countOfType(protocol.PacketForwardClientFrom)
	require.NoError(t, member.HandlePacket(chatPacket("anyone there?")))
	assert.Equal(t, before, hostTr.countOfType(protocol.PacketForwardClientFrom))
}

func TestMemberLeaveNotifiesHost(t *testing.T) {
	srv := newTestServer(t)
	_, hostTr, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	member.Disconnect()

	assert.True(t, memberTr.isClosed())
	assert.Equal(t, 1, room.Len())
	assert.NotNil(t, hostTr.lastOfType(protocol.PacketForwardClientRemove))

	// Pre-game departures release the moderation record.
	_, ok := room.LookupPlayer("id-alice")
	assert.False(t, ok)
}

func TestAdminLeavePreGameDestroysRoom(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	_, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	host.Disconnect()

	assert.True(t, room.Destroyed())
	assert.Equal(t, 0, srv.Rooms.Count())
	assert.True(t, memberTr.isClosed())
}

func TestAdminMigrationPreservesSites(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	alice, aliceTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")
	bob, _ := connectAsMember(t, srv, "10.0.0.3:4000", room.ID, "bob", "id-bob")

	room.SetStarted(true)
	host.Disconnect()

	// The surviving member with the lowest site takes over.
	require.True(t, room.IsAdmin(alice))
	assert.Equal(t, int32(1), alice.Site(), "sites survive migration")
	assert.Equal(t, int32(2), bob.Site())
	assert.False(t, room.Destroyed())
	assert.Equal(t, 1, srv.Rooms.Count())

	// The new admin receives the host handshake and every member's
	// introduction, cached opening packets included.
	assert.NotNil(t, aliceTr.lastOfType(protocol.PacketForwardHostSet))
	assert.Equal(t, 2, aliceTr.countOfType(protocol.PacketForwardClientAdd))
	assert.GreaterOrEqual(t, aliceTr.countOfType(protocol.PacketForwardClientFrom), 2)
}

func TestLastMemberLeavingDestroysRoom(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	alice, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	room.SetStarted(true)
	host.Disconnect()
	require.True(t, room.IsAdmin(alice))

	alice.Disconnect()
	assert.True(t, room.Destroyed())
	assert.Equal(t, 0, srv.Rooms.Count())
}

func TestDisconnectIdempotent(t *testing.T) {
	srv := newTestServer(t)
	_, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	member.Disconnect()
	member.Disconnect()
	assert.Equal(t, 1, room.Len())
}

func TestForbiddenHostNameDestroysRoom(t *testing.T) {
	srv := newTestServer(t)
	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)

	require.NoError(t, c.HandlePacket(firstContactPacket("new", "SERVER")))

	assert.Equal(t, 0, srv.Rooms.Count())
	assert.True(t, tr.isClosed())
}

func TestChallengeAnswerWithoutChallengeIsViolation(t *testing.T) {
	srv := newTestServer(t)
	c := srv.NewSession(newFakeTransport("10.0.0.1:4000"))

	answer := protocol.NewWriter().WriteInt(0).WriteInt(0).WriteString("").
		Packet(protocol.PacketRelayPowReceive)
	assert.ErrorIs(t, c.HandlePacket(answer), ErrHandshakeViolation)
}

func TestProofOfWorkGatesInspection(t *testing.T) {
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	cfg := config.RelayData{
		RoomIDPrefix:       "R",
		ReservedKeyword:    "RELAYCN",
		DefaultMaxPlayers:  10,
		ProofOfWorkEnabled: true,
	}
	srv := NewServer(cfg, NewRegistry(bus), abuse.NewBanList(), bus, "test")

	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket("new", "host")))

	// With the challenge outstanding no room exists yet.
	require.NotNil(t, tr.lastOfType(protocol.PacketRelayPow))
	assert.Nil(t, c.Room())

	// Answer it correctly; inspection resumes and the room appears.
	ch := c.challenge
	require.NotNil(t, ch)
	suffix := ""
	if ch.Kind >= 5 {
		var found bool
		suffix, found = ch.SolvePreimage()
		require.True(t, found)
	}
	answer := protocol.NewWriter().
		WriteInt(ch.Seed1).
		WriteInt(ch.Seed2).
		WriteString(suffix).
		Packet(protocol.PacketRelayPowReceive)
	require.NoError(t, c.HandlePacket(answer))
	assert.NotNil(t, c.Room())
}

func TestHeartbeatAnsweredDuringHandshake(t *testing.T) {
	srv := newTestServer(t)
	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)

	probe := protocol.NewWriter().WriteInt(1).WriteInt(2).Packet(protocol.PacketHeartBeat)
	require.NoError(t, c.HandlePacket(probe))
	assert.NotNil(t, tr.lastOfType(protocol.PacketHeartBeatResponse))
}

func TestReservedIDCollisionReprompts(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.Rooms.CreateWithID("taken1", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)

	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket("Ctaken1", "p")))

	assert.Nil(t, c.Room())
	assert.NotNil(t, tr.lastOfType(protocol.PacketRelayServerType))
}

func TestTeamListEnvelopeUpdatesTeams(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, memberTr := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")

	teamList := protocol.NewWriter().
		WriteInt(1).
		WriteInt(member.Site()).
		WriteInt(3).
		Packet(protocol.PacketTeamList)
	env := protocol.NewPacket(protocol.PacketForwardClientTo,
		protocol.ForwardEnvelope(member.Site(), teamList).Payload)

	require.NoError(t, host.HandlePacket(env))

	assert.NotNil(t, memberTr.lastOfType(protocol.PacketTeamList))
	assert.Equal(t, int32(3), member.Player().Team())
}

func selectionReplyPacket(input string) *protocol.Packet {
	return protocol.NewWriter().
		WriteUint8(1).
		WriteInt(0).
		WriteString(input).
		Packet(protocol.PacketRelayServerTypeReply)
}

func TestWrongChallengeAnswerIsRetryable(t *testing.T) {
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	cfg := config.RelayData{
		RoomIDPrefix:       "R",
		ReservedKeyword:    "RELAYCN",
		DefaultMaxPlayers:  10,
		ProofOfWorkEnabled: true,
	}
	srv := NewServer(cfg, NewRegistry(bus), abuse.NewBanList(), bus, "test")

	tr := newFakeTransport("10.0.0.1:4000")
	c := srv.NewSession(tr)
	require.NoError(t, c.HandlePacket(firstContactPacket("new", "host")))

	ch := c.challenge
	require.NotNil(t, ch)

	// A wrong answer is not fatal: the session stays open and the
	// challenge stays outstanding.
	wrong := protocol.NewWriter().
		WriteInt(ch.Seed1 + 1).
		WriteInt(ch.Seed2).
		WriteString("nope").
		Packet(protocol.PacketRelayPowReceive)
	require.NoError(t, c.HandlePacket(wrong))
	assert.False(t, tr.isClosed())
	assert.Nil(t, c.Room())
	require.NotNil(t, c.challenge)

	// A later correct answer still completes admission.
	suffix := ""
	if ch.Kind >= 5 {
		var found bool
		suffix, found = ch.SolvePreimage()
		require.True(t, found)
	}
	right := protocol.NewWriter().
		WriteInt(ch.Seed1).
		WriteInt(ch.Seed2).
		WriteString(suffix).
		Packet(protocol.PacketRelayPowReceive)
	require.NoError(t, c.HandlePacket(right))
	assert.NotNil(t, c.Room())
}

func TestSelectionReplayAfterSeatingIsDropped(t *testing.T) {
	srv := newTestServer(t)
	host, _, room := connectAsHost(t, srv, "10.0.0.1:4000")
	member, _ := connectAsMember(t, srv, "10.0.0.2:4000", room.ID, "alice", "id-alice")
	require.Equal(t, 2, room.Len())

	// A seated member replaying the selection grammar must not move
	// rooms or create a new one.
	require.NoError(t, member.HandlePacket(selectionReplyPacket("new")))
	assert.Equal(t, 1, srv.Rooms.Count())
	assert.Same(t, room, member.Room())
	assert.Equal(t, 2, room.Len())
	assert.True(t, room.IsAdmin(host))

	// Same for a replayed opening packet.
	require.NoError(t, member.HandlePacket(firstContactPacket("new", "alice")))
	assert.Equal(t, 1, srv.Rooms.Count())
	assert.Same(t, room, member.Room())
}

func TestPlayerStateConcurrentModeration(t *testing.T) {
	p := NewPlayerState("id-1", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.SetConnected(n%2 == 0)
				p.SetTeam(int32(n))
				p.RepeatsLast("hello")
				p.Connected()
				p.Team()
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, p.RepeatsLast("hello"))
}
