// Package connector implements outbound integrations, currently the
// public relay list announcer.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/relay"
	"github.com/relaygate-project/relaygate/internal/util"
)

const (
	announceRetryInterval = 30 * time.Second
	announceMaxRetries    = 5
)

// ListAnnouncer keeps this relay registered on a public relay list.
// It registers on startup, sends periodic heartbeats with current room
// counts, and removes the listing on shutdown.
type ListAnnouncer struct {
	mu sync.RWMutex

	cfg    config.ListingConfig
	relay  *relay.Server
	client *http.Client

	publicIP   string
	registered bool
}

// announcePayload is the JSON body sent to the relay list endpoint.
type announcePayload struct {
	Action      string `json:"action"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Version     string `json:"version"`
	Rooms       int    `json:"rooms"`
	InGame      int    `json:"in_game"`
	Connections int    `json:"connections"`
}

// NewListAnnouncer creates a relay list announcer.
func NewListAnnouncer(cfg config.ListingConfig, relayServer *relay.Server) *ListAnnouncer {
	return &ListAnnouncer{
		cfg:   cfg,
		relay: relayServer,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Run registers the relay and keeps the listing fresh until ctx is
// cancelled, then removes the listing.
func (a *ListAnnouncer) Run(ctx context.Context) error {
	if !a.cfg.Enabled || a.cfg.URL == "" {
		return nil
	}

	ip, err := util.GetPublicIP()
	if err != nil {
		log.Warn().Err(err).Msg("could not resolve public IP for relay listing")
	}
	a.mu.Lock()
	a.publicIP = ip
	a.mu.Unlock()

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := a.announce(ctx, "register"); err != nil {
			retries++
			if retries >= announceMaxRetries {
				return fmt.Errorf("relay list registration failed after %d retries: %w",
					announceMaxRetries, err)
			}
			log.Warn().Err(err).Int("retry", retries).Msg("relay list registration failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(announceRetryInterval):
			}
			continue
		}
		break
	}

	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()
	log.Info().Str("url", a.cfg.URL).Str("name", a.cfg.Name).Msg("registered with relay list")

	interval := time.Duration(a.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.unregister()
			return nil
		case <-ticker.C:
			if err := a.announce(ctx, "heartbeat"); err != nil {
				log.Warn().Err(err).Msg("relay list heartbeat failed")
			}
		}
	}
}

// Registered reports whether the relay currently holds a listing.
func (a *ListAnnouncer) Registered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registered
}

func (a *ListAnnouncer) announce(ctx context.Context, action string) error {
	rooms := a.relay.Rooms.Rooms()
	inGame := 0
	connections := 0
	for _, room := range rooms {
		if room.Started() {
			inGame++
		}
		connections += room.Len()
	}

	a.mu.RLock()
	ip := a.publicIP
	a.mu.RUnlock()

	payload := announcePayload{
		Action:      action,
		Name:        a.cfg.Name,
		Address:     ip,
		Port:        a.relay.Config().ListenPort,
		Version:     a.relay.Version,
		Rooms:       len(rooms),
		InGame:      inGame,
		Connections: connections,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding announce payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building announce request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Relaygate/"+a.relay.Version)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to relay list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay list returned status %d", resp.StatusCode)
	}
	return nil
}

// unregister removes the listing. Runs with a short standalone timeout
// because the caller's context is already cancelled during shutdown.
func (a *ListAnnouncer) unregister() {
	a.mu.Lock()
	if !a.registered {
		a.mu.Unlock()
		return
	}
	a.registered = false
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.announce(ctx, "unregister"); err != nil {
		log.Warn().Err(err).Msg("relay list unregister failed")
		return
	}
	log.Info().Msg("removed relay list entry")
}
