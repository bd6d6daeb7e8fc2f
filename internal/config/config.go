// Package config handles configuration loading, validation, and persistence
// for the relay server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultListenPort = 5123
	DefaultUDPPort    = 5124
	DefaultAPIPort    = 5200

	// DefaultMaxFrameSize caps a single wire frame at 50 MB; anything
	// larger closes the offending connection.
	DefaultMaxFrameSize = 50 * 1024 * 1024

	// DefaultIdleTimeoutSec reaps connections that sit in the handshake
	// without ever answering the challenge or picking a room.
	DefaultIdleTimeoutSec = 300
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	RelayData       RelayData       `json:"relay_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RelayData configures the relay core and its listeners.
type RelayData struct {
	// Listeners
	ListenPort int `json:"listen_port"`
	UDPPort    int `json:"udp_port"`
	APIPort    int `json:"api_port"`

	// Wire protocol
	MaxFrameSize   int `json:"max_frame_size"`
	IdleTimeoutSec int `json:"idle_timeout_sec"`

	// Room identity shown to clients: the public prefix in front of a
	// room id, and the domain RA redirects point at.
	RoomIDPrefix   string `json:"room_id_prefix"`
	RedirectDomain string `json:"redirect_domain"`

	// Query strings equal to this keyword are treated as blank during
	// the handshake.
	ReservedKeyword string `json:"reserved_keyword"`

	// Room defaults
	DefaultMaxPlayers int `json:"default_max_players"`

	// Anti-bot admission challenge
	ProofOfWorkEnabled bool `json:"proof_of_work_enabled"`
}

// ApplicationData contains configuration not tied to the wire protocol.
type ApplicationData struct {
	Logging LoggingConfig `json:"logging"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Timers  TimersConfig  `json:"timers"`
	Listing ListingConfig `json:"listing"`
	BanDB   string        `json:"ban_db_path"`
}

// TimersConfig holds the intervals, in seconds, of the periodic health
// checks. A zero interval disables that check.
type TimersConfig struct {
	PublicIPCheckInterval  int `json:"public_ip_check_interval"`
	DiskCheckInterval      int `json:"disk_check_interval"`
	GeneralHealthInterval  int `json:"general_health_interval"`
	DiscoveryCheckInterval int `json:"discovery_check_interval"`
	HeartbeatInterval      int `json:"heartbeat_interval"`
}

// ListingConfig controls announcing this relay to a public relay list.
type ListingConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	IntervalSec int    `json:"interval_sec"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// APIConfig holds REST surface settings. An empty AuthToken leaves the
// admin endpoints open; set one before exposing the port.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins"`
	AuthToken      string   `json:"auth_token"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds telemetry publishing settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	IntervalSec int    `json:"interval_sec"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		RelayData: RelayData{
			ListenPort:         DefaultListenPort,
			UDPPort:            DefaultUDPPort,
			APIPort:            DefaultAPIPort,
			MaxFrameSize:       DefaultMaxFrameSize,
			IdleTimeoutSec:     DefaultIdleTimeoutSec,
			RoomIDPrefix:       "R",
			RedirectDomain:     "relay.example.net",
			ReservedKeyword:    "RELAYCN",
			DefaultMaxPlayers:  10,
			ProofOfWorkEnabled: true,
		},
		ApplicationData: ApplicationData{
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
			API: APIConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				RateLimitRPS:   20,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        8883,
				IntervalSec: 60,
			},
			Timers: TimersConfig{
				PublicIPCheckInterval:  3600,
				DiskCheckInterval:      1800,
				GeneralHealthInterval:  300,
				DiscoveryCheckInterval: 600,
				HeartbeatInterval:      60,
			},
			Listing: ListingConfig{
				Enabled:     false,
				Name:        "Relaygate",
				IntervalSec: 300,
			},
			BanDB: filepath.Join(DefaultConfigDir, "bans.db"),
		},
	}
}

// Load reads the config file from dir, creating it with defaults on first
// run.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, DefaultConfigFile)

	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("no config file, writing defaults")
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("config loaded")
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := c.RelayData
	if r.ListenPort <= 0 || r.ListenPort > 65535 {
		return fmt.Errorf("config: invalid listen_port %d", r.ListenPort)
	}
	if r.MaxFrameSize < 1024 {
		return fmt.Errorf("config: max_frame_size %d too small", r.MaxFrameSize)
	}
	if r.DefaultMaxPlayers < 1 || r.DefaultMaxPlayers > 100 {
		return fmt.Errorf("config: default_max_players %d out of range", r.DefaultMaxPlayers)
	}
	return nil
}

// Save writes the config back to its file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", c.path, err)
	}
	return nil
}

// GetRelayData returns a copy of the relay section.
func (c *Config) GetRelayData() RelayData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RelayData
}

// SetRelayData replaces the relay section.
func (c *Config) SetRelayData(d RelayData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RelayData = d
}
