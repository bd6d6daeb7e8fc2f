package abuse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPBlock24(t *testing.T) {
	assert.Equal(t, "192.168.1.0", IPBlock24("192.168.1.55"))
	assert.Equal(t, "10.0.0.0", IPBlock24("10.0.0.1:5123"))
	assert.Equal(t, "not-an-ip", IPBlock24("not-an-ip"))
	assert.Equal(t, "::1", IPBlock24("::1"))
}

func TestKickLedgerTimedKick(t *testing.T) {
	now := time.Unix(5000, 0)
	l := NewKickLedger()
	l.now = func() time.Time { return now }

	l.KickPlayer("player-1", DefaultKickDuration)
	l.KickIP("192.168.1.55", DefaultKickDuration)

	assert.True(t, l.IsKicked("player-1", "10.9.9.9"))
	assert.True(t, l.IsKicked("someone-else", "192.168.1.200"), "kick covers the whole /24")
	assert.False(t, l.IsKicked("someone-else", "192.168.2.1"))

	// Past the expiry the entries are lazily collected.
	now = now.Add(DefaultKickDuration + time.Second)
	assert.False(t, l.IsKicked("player-1", "192.168.1.55"))
	assert.Equal(t, 0, l.Len())
}

func TestKickLedgerPermanentBan(t *testing.T) {
	now := time.Unix(5000, 0)
	l := NewKickLedger()
	l.now = func() time.Time { return now }

	l.BanIP("203.0.113.7")
	assert.True(t, l.IsBanned("203.0.113.7"))

	now = now.Add(1000 * time.Hour)
	assert.True(t, l.IsBanned("203.0.113.7"), "room bans never expire")
	assert.False(t, l.IsBanned("203.0.113.8"))
}

func TestBanListAddRemoveContains(t *testing.T) {
	l := NewBanList()

	block := l.Add("198.51.100.23:6000")
	assert.Equal(t, "198.51.100.0", block)

	assert.True(t, l.Contains("198.51.100.99"))
	assert.False(t, l.Contains("198.51.101.1"))

	assert.True(t, l.Remove("198.51.100.1"))
	assert.False(t, l.Remove("198.51.100.1"))
	assert.False(t, l.Contains("198.51.100.99"))
}

func TestBanListBlocksSorted(t *testing.T) {
	l := NewBanList()
	l.Add("10.2.0.1")
	l.Add("10.1.0.1")
	l.Add("10.3.0.1")

	assert.Equal(t, []string{"10.1.0.0", "10.2.0.0", "10.3.0.0"}, l.Blocks())
	assert.Equal(t, "10.1.0.0, 10.2.0.0, 10.3.0.0", l.String())
}

type fakeBanStore struct {
	loaded  []string
	loadErr error
	added   []string
	removed []string
}

func (s *fakeBanStore) LoadBans() ([]string, error)  { return s.loaded, s.loadErr }
func (s *fakeBanStore) AddBan(block string) error    { s.added = append(s.added, block); return nil }
func (s *fakeBanStore) RemoveBan(block string) error { s.removed = append(s.removed, block); return nil }

func TestBanListStoreMirroring(t *testing.T) {
	store := &fakeBanStore{loaded: []string{"172.16.0.0"}}

	l, err := NewBanListWithStore(store)
	require.NoError(t, err)
	assert.True(t, l.Contains("172.16.0.200"))

	l.Add("172.17.0.5")
	assert.Equal(t, []string{"172.17.0.0"}, store.added)

	l.Remove("172.16.0.1")
	assert.Equal(t, []string{"172.16.0.0"}, store.removed)

	// Removing a block that was never banned must not touch the store.
	l.Remove("172.20.0.1")
	assert.Len(t, store.removed, 1)
}

func TestBanListStoreLoadFailure(t *testing.T) {
	store := &fakeBanStore{loadErr: errors.New("disk gone")}
	_, err := NewBanListWithStore(store)
	assert.Error(t, err)
}
