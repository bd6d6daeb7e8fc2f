package abuse

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ledger key prefixes. BAN entries are permanent until removed, KICK
// entries carry an expiry timestamp.
const (
	KeyBan  = "BAN"
	KeyKick = "KICK"
)

// DefaultKickDuration is how long a spam kick keeps the player out.
const DefaultKickDuration = 120 * time.Second

// IPBlock24 reduces an IPv4 address to its /24 block, the granularity all
// IP bans operate on. Unparseable input is returned unchanged so it still
// forms a usable (if never-matching) key.
func IPBlock24(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ip
	}
	return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
}

// KickLedger is the room-scoped moderation ledger: timed kicks keyed by
// player id or IP /24, and permanent room bans keyed by IP. The ledger is
// owned by whichever connection holds the admin role and is handed to the
// new admin on migration.
type KickLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time

	now func() time.Time
}

// NewKickLedger returns an empty ledger.
func NewKickLedger() *KickLedger {
	return &KickLedger{entries: make(map[string]time.Time), now: time.Now}
}

// KickPlayer records a timed kick against a stable player id.
func (l *KickLedger) KickPlayer(playerID string, d time.Duration) {
	l.put(KeyKick+playerID, d)
}

// KickIP records a timed kick against an IP /24 block.
func (l *KickLedger) KickIP(ip string, d time.Duration) {
	l.put(KeyKick+IPBlock24(ip), d)
}

// BanIP records a permanent room ban against an IP.
func (l *KickLedger) BanIP(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Zero expiry marks a permanent entry.
	l.entries[KeyBan+ip] = time.Time{}
}

func (l *KickLedger) put(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = l.now().Add(d)
}

// IsBanned reports a permanent room ban for the IP.
func (l *KickLedger) IsBanned(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[KeyBan+ip]
	return ok
}

// IsKicked reports whether the player id or its IP /24 block still sits in
// an unexpired kick entry. Expired entries are removed lazily here, on the
// next admission attempt that checks them.
func (l *KickLedger) IsKicked(playerID, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range []string{KeyKick + playerID, KeyKick + IPBlock24(ip)} {
		expiry, ok := l.entries[key]
		if !ok {
			continue
		}
		if l.now().Before(expiry) {
			return true
		}
		delete(l.entries, key)
	}
	return false
}

// Len returns the number of live entries, counting expired ones that have
// not been lazily collected yet.
func (l *KickLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// BanStore persists the server-wide ban list across restarts.
type BanStore interface {
	LoadBans() ([]string, error)
	AddBan(block string) error
	RemoveBan(block string) error
}

// BanList is the server-wide IP /24 ban list, enforced at connection
// admission before any room logic runs and taking precedence over
// room-scoped ledgers. Mutations are mirrored to the store when one is
// attached.
type BanList struct {
	mu     sync.RWMutex
	blocks map[string]struct{}
	store  BanStore
	logger zerolog.Logger
}

// NewBanList returns an empty in-memory ban list.
func NewBanList() *BanList {
	return &BanList{
		blocks: make(map[string]struct{}),
		logger: log.With().Str("component", "banlist").Logger(),
	}
}

// NewBanListWithStore loads the persisted ban list from the store and
// mirrors future mutations back to it.
func NewBanListWithStore(store BanStore) (*BanList, error) {
	l := NewBanList()
	l.store = store

	blocks, err := store.LoadBans()
	if err != nil {
		return nil, fmt.Errorf("failed to load ban list: %w", err)
	}
	for _, b := range blocks {
		l.blocks[b] = struct{}{}
	}
	l.logger.Info().Int("bans", len(blocks)).Msg("ban list loaded")
	return l, nil
}

// Add bans the /24 block containing ip.
func (l *BanList) Add(ip string) string {
	block := IPBlock24(ip)

	l.mu.Lock()
	l.blocks[block] = struct{}{}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AddBan(block); err != nil {
			l.logger.Error().Err(err).Str("block", block).Msg("failed to persist ban")
		}
	}
	return block
}

// Remove lifts the ban on the /24 block containing ip. It reports whether
// an entry existed.
func (l *BanList) Remove(ip string) bool {
	block := IPBlock24(ip)

	l.mu.Lock()
	_, ok := l.blocks[block]
	delete(l.blocks, block)
	l.mu.Unlock()

	if ok && l.store != nil {
		if err := l.store.RemoveBan(block); err != nil {
			l.logger.Error().Err(err).Str("block", block).Msg("failed to persist unban")
		}
	}
	return ok
}

// Contains reports whether ip falls inside a banned block.
func (l *BanList) Contains(ip string) bool {
	block := IPBlock24(ip)
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.blocks[block]
	return ok
}

// Blocks returns the banned blocks in stable order.
func (l *BanList) Blocks() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.blocks))
	for b := range l.blocks {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of banned blocks.
func (l *BanList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// String renders the list the way the bans command prints it.
func (l *BanList) String() string {
	return strings.Join(l.Blocks(), ", ")
}
