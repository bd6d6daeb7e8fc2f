// Relaygate - multiplayer relay for room rendezvous and packet forwarding.
//
// Relaygate accepts game client connections over TCP, groups them into
// rooms addressed by short numeric or reserved IDs, and forwards
// gameplay traffic between each room's host and its members. It exposes
// a REST API for operators, answers LAN discovery probes over UDP, and
// publishes telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/abuse"
	"github.com/relaygate-project/relaygate/internal/api"
	"github.com/relaygate-project/relaygate/internal/cli"
	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/connector"
	"github.com/relaygate-project/relaygate/internal/db"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/health"
	"github.com/relaygate-project/relaygate/internal/network"
	"github.com/relaygate-project/relaygate/internal/relay"
	"github.com/relaygate-project/relaygate/internal/scheduler"
	"github.com/relaygate-project/relaygate/internal/telemetry"
	"github.com/relaygate-project/relaygate/internal/util"
)

const (
	AppName    = "Relaygate"
	AppVersion = "1.0.0"
	Banner     = `
  _____      _                        _       
 |  __ \    | |                      | |      
 | |__) |___| | __ _ _   _  __ _ __ _| |_ ___ 
 |  _  // _ \ |/ _' | | | |/ _' / _' | __/ _ \
 | | \ \  __/ | (_| | |_| | (_| (_| | ||  __/
 |_|  \_\___|_|\__,_|\__, |\__, \__,_|\__\___|
                      __/ | __/ |             
                     |___/ |___/   v%s
 Multiplayer Relay Server
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Relaygate")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxSizeMB:  util.DefaultLogConfig().MaxSizeMB,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    cfg.ApplicationData.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Ban persistence is best-effort: without the database the relay
	// still runs, bans just don't survive restarts.
	var (
		banList *abuse.BanList
		roomLog *db.RoomLog
	)
	database, err := db.Open(cfg.ApplicationData.BanDB)
	if err != nil {
		log.Warn().Err(err).Msg("ban database unavailable, running without persistence")
		banList = abuse.NewBanList()
	} else {
		defer database.Close()
		banList, err = abuse.NewBanListWithStore(db.NewBanStore(database))
		if err != nil {
			log.Warn().Err(err).Msg("loading stored bans failed, starting empty")
			banList = abuse.NewBanList()
		}
		roomLog = db.NewRoomLog(database)
	}

	relayData := cfg.GetRelayData()
	registry := relay.NewRegistry(eventBus)
	relayServer := relay.NewServer(relayData, registry, banList, eventBus, AppVersion)

	subscribeRoomLog(eventBus, roomLog)

	tcpListener := network.NewTCPListener(relayData, relayServer)
	udpListener := network.NewUDPDiscoveryListener(relayData, AppVersion)
	apiServer := api.NewServer(cfg, eventBus, relayServer, banList, roomLog)
	healthMgr := health.NewManager(cfg, eventBus, relayServer, udpListener)
	sched := scheduler.NewScheduler(cfg, relayServer, roomLog)
	announcer := connector.NewListAnnouncer(cfg.ApplicationData.Listing, relayServer)
	cliHandler := cli.NewCLI(cfg, eventBus, relayServer, banList)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, relayServer)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", relayData.ListenPort).Msg("starting relay listener")
		if err := startWithRetry(ctx, "relay listener", tcpListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("relay listener failed after retries")
			errCh <- fmt.Errorf("relay listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", relayData.UDPPort).Msg("starting UDP discovery listener")
		if err := startWithRetry(ctx, "UDP discovery", udpListener.Start, 15); err != nil {
			log.Warn().Err(err).Msg("UDP discovery listener failed after retries (non-fatal)")
		}
	}()

	if cfg.ApplicationData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", relayData.APIPort).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if cfg.ApplicationData.Listing.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting relay list announcer")
			if err := announcer.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("relay list announcer failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// The CLI quit command requests shutdown through the event bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}

	log.Info().Msg("Relaygate stopped")
}

// subscribeRoomLog mirrors room lifecycle events into the database.
func subscribeRoomLog(bus *events.EventBus, roomLog *db.RoomLog) {
	if roomLog == nil {
		return
	}

	bus.Subscribe(events.EventRoomCreated, "roomlog.opened", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.RoomPayload); ok {
			return roomLog.RoomOpened(p.RoomID, p.IsMod)
		}
		return nil
	})
	bus.Subscribe(events.EventRoomClosed, "roomlog.closed", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.RoomPayload); ok {
			return roomLog.RoomClosed(p.RoomID)
		}
		return nil
	})
}

// startWithRetry retries a Start function on failure, for listeners
// whose port may still be releasing from a previous run.
func startWithRetry(ctx context.Context, name string, start func(context.Context) error, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		lastErr = start(ctx)
		if lastErr == nil {
			return nil
		}

		log.Warn().Err(lastErr).Str("task", name).Int("attempt", attempt).Msg("start failed, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
	return lastErr
}
