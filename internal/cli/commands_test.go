package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/relay"
)

func newTestCLI(t *testing.T) (*CLI, *relay.Server) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	cfg := config.Default()
	srv := relay.NewServer(cfg.GetRelayData(), relay.NewRegistry(bus), abuse.NewBanList(), bus, "test")
	return NewCLI(cfg, bus, srv, srv.Bans), srv
}

func TestPlayersWithoutArgsListsAdmins(t *testing.T) {
	c, _ := newTestCLI(t)

	// Bare "players" is the fleet overview; it must not demand a room id.
	assert.NoError(t, c.cmdPlayers(nil))
}

func TestPlayersWithUnknownRoomErrors(t *testing.T) {
	c, srv := newTestCLI(t)

	_, err := srv.Rooms.CreateWithID("abc12", relay.RoomOptions{MaxPlayers: 10})
	require.NoError(t, err)

	assert.NoError(t, c.cmdPlayers([]string{"abc12"}))
	assert.Error(t, c.cmdPlayers([]string{"zzz99"}))
}
