// Package telemetry publishes relay activity over MQTT: room lifecycle,
// moderation events and a periodic status snapshot.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/events"
	"github.com/relaygate-project/relaygate/internal/relay"
	"github.com/relaygate-project/relaygate/internal/util"
)

// MQTT topics
const (
	TopicRelayStatus = "relay/status"
	TopicRelayRooms  = "relay/rooms"
	TopicRelayAbuse  = "relay/abuse"
	TopicRelayAdmin  = "relay/admin"
)

// MQTTHandler manages the MQTT connection and publishes telemetry.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	relay    *relay.Server
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates the telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, rl *relay.Server) (*MQTTHandler, error) {
	mqttCfg := cfg.ApplicationData.MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.Platform,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": rl.Version,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		relay:    rl,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("relaygate-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

// Start connects to the broker, subscribes to relay events and runs the
// snapshot loop until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.ApplicationData.MQTT.BrokerURL).
		Int("port", h.cfg.ApplicationData.MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	interval := time.Duration(h.cfg.ApplicationData.MQTT.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.publishSnapshot()
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		}
	}
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventRoomCreated, "mqtt.roomCreated", h.onRoomEvent("room_created"))
	h.eventBus.Subscribe(events.EventRoomClosed, "mqtt.roomClosed", h.onRoomEvent("room_closed"))
	h.eventBus.Subscribe(events.EventAdminMigrated, "mqtt.adminMigrated", h.onRoomEvent("admin_migrated"))
	h.eventBus.Subscribe(events.EventPlayerJoined, "mqtt.playerJoined", h.onRoomEvent("player_joined"))
	h.eventBus.Subscribe(events.EventPlayerLeft, "mqtt.playerLeft", h.onRoomEvent("player_left"))
	h.eventBus.Subscribe(events.EventPlayerKicked, "mqtt.playerKicked", h.onAbuseEvent("player_kicked"))
	h.eventBus.Subscribe(events.EventIPBanned, "mqtt.ipBanned", h.onAbuseEvent("ip_banned"))
	h.eventBus.Subscribe(events.EventIPUnbanned, "mqtt.ipUnbanned", h.onAbuseEvent("ip_unbanned"))
	h.eventBus.Subscribe(events.EventHealthAlert, "mqtt.healthAlert", h.onHealthAlert)
}

func (h *MQTTHandler) onHealthAlert(ctx context.Context, event events.Event) error {
	h.publish(TopicRelayAdmin, event.Payload)
	return nil
}

func (h *MQTTHandler) onRoomEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicRelayRooms, map[string]interface{}{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onAbuseEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicRelayAbuse, map[string]interface{}{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

// publishSnapshot sends the periodic status message.
func (h *MQTTHandler) publishSnapshot() {
	rooms := h.relay.Rooms.Rooms()
	members := 0
	started := 0
	for _, r := range rooms {
		members += r.Len()
		if r.Started() {
			started++
		}
	}

	snapshot := map[string]interface{}{
		"rooms":       len(rooms),
		"in_game":     started,
		"connections": members,
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		snapshot["cpu_percent"] = cpuPct
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		snapshot["memory_used_mb"] = mem.Used
	}

	h.publish(TopicRelayStatus, snapshot)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces an orderly shutdown to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicRelayAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
