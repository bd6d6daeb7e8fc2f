package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomSitesMonotonic(t *testing.T) {
	srv := newTestServer(t)
	room := NewRoom("12345", RoomOptions{MaxPlayers: 10})

	a := srv.NewSession(newFakeTransport("10.0.0.1:1"))
	b := srv.NewSession(newFakeTransport("10.0.0.2:1"))

	siteA, err := room.AddMember(a)
	require.NoError(t, err)
	siteB, err := room.AddMember(b)
	require.NoError(t, err)
	assert.Equal(t, int32(0), siteA)
	assert.Equal(t, int32(1), siteB)

	// A freed site index is never handed out again.
	room.RemoveMember(siteA)
	c := srv.NewSession(newFakeTransport("10.0.0.3:1"))
	siteC, err := room.AddMember(c)
	require.NoError(t, err)
	assert.Equal(t, int32(2), siteC)
}

func TestRoomMinSiteMember(t *testing.T) {
	srv := newTestServer(t)
	room := NewRoom("12345", RoomOptions{MaxPlayers: 10})

	assert.Nil(t, room.MinSiteMember())

	a := srv.NewSession(newFakeTransport("10.0.0.1:1"))
	b := srv.NewSession(newFakeTransport("10.0.0.2:1"))
	siteA, _ := room.AddMember(a)
	room.AddMember(b)
	a.setSite(siteA)
	b.setSite(1)

	room.RemoveMember(siteA)
	assert.Same(t, b, room.MinSiteMember())
}

func TestRoomPlayerRegistrySurvivesReconnect(t *testing.T) {
	room := NewRoom("12345", RoomOptions{MaxPlayers: 10})

	p1 := room.Player("id-1", "alice")
	assert.False(t, p1.RepeatsLast("hi"))
	assert.True(t, p1.RepeatsLast("hi"))

	// Same stable id resolves to the same record.
	p2 := room.Player("id-1", "alice")
	assert.Same(t, p1, p2)

	// Records die with the room; teardown clears the registry.
	room.ResetPlayers()
	_, ok := room.LookupPlayer("id-1")
	assert.False(t, ok)
}

func TestDestroyClearsPlayerRecords(t *testing.T) {
	srv := newTestServer(t)
	room, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)
	room.Player("id-1", "alice")

	srv.Rooms.Destroy(room)

	_, ok := room.LookupPlayer("id-1")
	assert.False(t, ok)
}

func TestRoomClosedRejectsJoin(t *testing.T) {
	srv := newTestServer(t)
	room, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)

	srv.Rooms.Destroy(room)

	_, err = room.AddMember(srv.NewSession(newFakeTransport("10.0.0.1:1")))
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestRegistryIDReuseAfterDestroy(t *testing.T) {
	srv := newTestServer(t)

	room, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)

	_, err = srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	assert.ErrorIs(t, err, ErrRoomTaken)

	srv.Rooms.Destroy(room)

	again, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)
	assert.NotSame(t, room, again)
}

func TestRegistryDestroyIdempotent(t *testing.T) {
	srv := newTestServer(t)
	room, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)

	srv.Rooms.Destroy(room)
	srv.Rooms.Destroy(room)
	assert.Equal(t, 0, srv.Rooms.Count())
}

func TestRegistryGeneratedIDShape(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 20; i++ {
		room := srv.Rooms.CreateGenerated(RoomOptions{MaxPlayers: 10})
		require.Len(t, room.ID, 5)
		for _, ch := range room.ID {
			assert.True(t, ch >= '0' && ch <= '9', "generated ids are numeric")
		}
	}
}

func TestStaleRoomDestroyLeavesReplacementAlone(t *testing.T) {
	srv := newTestServer(t)

	old, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)
	srv.Rooms.Destroy(old)

	replacement, err := srv.Rooms.CreateWithID("abc12", RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)

	// A late destroy of the old instance must not evict the new room.
	srv.Rooms.Destroy(old)
	got, ok := srv.Rooms.Get("abc12")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestStripDigits(t *testing.T) {
	assert.Equal(t, "kicked", stripDigits("kicked123"))
	assert.Equal(t, "", stripDigits("42"))
	assert.Equal(t, "plain", stripDigits("plain"))
}

func TestIsBetaVersion(t *testing.T) {
	assert.False(t, isBetaVersion(151))
	assert.True(t, isBetaVersion(152))
	assert.True(t, isBetaVersion(175))
	assert.False(t, isBetaVersion(176))
	assert.False(t, isBetaVersion(200))
}
