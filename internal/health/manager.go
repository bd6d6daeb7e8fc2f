// Package health implements periodic host monitoring: disk utilization,
// public IP changes, system load and the UDP discovery self-test.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/relay"
	"github.com/relaygate-project/relaygate/internal/util"
)

// SelfTester is the probe surface of the UDP discovery listener.
type SelfTester interface {
	SelfTest() error
}

// Manager runs each health check on its own ticker.
type Manager struct {
	mu sync.Mutex

	cfg       *config.Config
	eventBus  *events.EventBus
	relay     *relay.Server
	discovery SelfTester

	publicIP string
}

// NewManager creates the health check manager. discovery may be nil when
// the UDP listener is disabled.
func NewManager(cfg *config.Config, eventBus *events.EventBus, rl *relay.Server, discovery SelfTester) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		relay:     rl,
		discovery: discovery,
	}
}

// Start launches all health check goroutines and blocks until the
// context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.ApplicationData.Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"public_ip", timers.PublicIPCheckInterval, m.checkPublicIP},
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
		{"general_health", timers.GeneralHealthInterval, m.checkGeneralHealth},
		{"discovery_listener", timers.DiscoveryCheckInterval, m.checkDiscoveryListener},
	}

	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	if timers.HeartbeatInterval > 0 {
		go m.heartbeatLoop(ctx, time.Duration(timers.HeartbeatInterval)*time.Second)
	}

	log.Info().Int("checks", len(checks)).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkPublicIP detects changes to the host's public address. Players
// hold the relay's address in their room lists, so a silent change
// strands every advertised room id.
func (m *Manager) checkPublicIP(ctx context.Context) {
	ip, err := util.GetPublicIP()
	if err != nil {
		log.Warn().Err(err).Msg("public IP check failed")
		return
	}

	m.mu.Lock()
	previous := m.publicIP
	m.publicIP = ip
	m.mu.Unlock()

	if previous != "" && previous != ip {
		log.Warn().
			Str("old_ip", previous).
			Str("new_ip", ip).
			Msg("public IP changed!")

		m.alert(ctx, "Public IP Changed",
			fmt.Sprintf("Public IP changed from %s to %s", previous, ip), "warning")
	}
}

// PublicIP returns the last observed public address.
func (m *Manager) PublicIP() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publicIP
}

// checkDiskUtilization monitors disk space and alerts at thresholds.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := m.cfg.ApplicationData.Logging.Directory
	if path == "" {
		path = "/"
	}

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	case usage.UsedPercent >= 80:
		level = "info"
	default:
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)

	log.Warn().Str("level", level).Msg(message)
	m.alert(ctx, "Disk Space Alert", message, level)
}

// checkGeneralHealth watches system load relative to relay activity.
func (m *Manager) checkGeneralHealth(ctx context.Context) {
	cpuPct, err := util.GetCPUUsage()
	if err != nil {
		log.Warn().Err(err).Msg("CPU check failed")
		return
	}

	mem, err := util.GetMemoryUsage()
	if err != nil {
		log.Warn().Err(err).Msg("memory check failed")
		return
	}

	rooms := m.relay.Rooms.Count()

	log.Debug().
		Float64("cpu_percent", cpuPct).
		Float64("memory_percent", mem.UsedPercent).
		Int("rooms", rooms).
		Msg("general health")

	if cpuPct >= 95 {
		m.alert(ctx, "CPU Saturated",
			fmt.Sprintf("CPU at %.1f%% with %d rooms live", cpuPct, rooms), "warning")
	}
	if mem.UsedPercent >= 95 {
		m.alert(ctx, "Memory Exhausted",
			fmt.Sprintf("Memory at %.1f%% with %d rooms live", mem.UsedPercent, rooms), "warning")
	}
}

// checkDiscoveryListener probes the UDP responder end to end.
func (m *Manager) checkDiscoveryListener(ctx context.Context) {
	if m.discovery == nil {
		return
	}
	if err := m.discovery.SelfTest(); err != nil {
		log.Warn().Err(err).Msg("discovery listener self-test failed")
		m.alert(ctx, "Discovery Listener Down", err.Error(), "error")
		return
	}
	log.Trace().Msg("discovery listener check completed")
}

// heartbeatLoop emits a periodic liveness event with relay counters.
func (m *Manager) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rooms := m.relay.Rooms.Rooms()
			members := 0
			for _, r := range rooms {
				members += r.Len()
			}

			m.eventBus.Emit(ctx, events.Event{
				Type:   events.EventHealthAlert,
				Source: "heartbeat",
				Payload: map[string]interface{}{
					"type":        "heartbeat",
					"rooms":       len(rooms),
					"connections": members,
					"public_ip":   m.PublicIP(),
					"timestamp":   time.Now().Unix(),
				},
			})
		}
	}
}

func (m *Manager) alert(ctx context.Context, title, message, level string) {
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHealthAlert,
		Source: "health_check",
		Payload: events.HealthAlertPayload{
			Title:   title,
			Message: message,
			Level:   level,
		},
	})
}
