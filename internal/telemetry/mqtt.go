// Package telemetry publishes login gateway events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/util"
)

// MQTT topics
const (
	TopicLoginAccepted = "urd/login/accepted"
	TopicLoginRefused  = "urd/login/refused"
	TopicSessionClosed = "urd/session/closed"
	TopicCharServer    = "urd/charserver"
	TopicAdmin         = "urd/admin"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// MQTTHandler forwards EventBus events to the broker as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	// metadata is merged into every message
	metadata map[string]interface{}

	send func(topic string, data []byte)
}

// NewMQTTHandler creates the handler and its client. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerAddress(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("urd-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
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

	h.client = mqtt.NewClient(opts)
	h.send = h.clientSend
	return h, nil
}

func brokerAddress(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

// Start connects, subscribes to the bus and blocks until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventLoginAccepted, "mqtt.loginAccepted", h.onLoginAccepted)
	h.eventBus.Subscribe(events.EventLoginRefused, "mqtt.loginRefused", h.onLoginRefused)
	h.eventBus.Subscribe(events.EventSessionClosed, "mqtt.sessionClosed", h.onSessionClosed)
	h.eventBus.Subscribe(events.EventCharServerDown, "mqtt.charServerDown", h.onCharServer)
	h.eventBus.Subscribe(events.EventCharServerUp, "mqtt.charServerUp", h.onCharServer)
	h.eventBus.Subscribe(events.EventStartup, "mqtt.startup", h.onSystem)
	h.eventBus.Subscribe(events.EventShutdown, "mqtt.shutdown", h.onSystem)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventLoginAccepted, "mqtt.loginAccepted")
	h.eventBus.Unsubscribe(events.EventLoginRefused, "mqtt.loginRefused")
	h.eventBus.Unsubscribe(events.EventSessionClosed, "mqtt.sessionClosed")
	h.eventBus.Unsubscribe(events.EventCharServerDown, "mqtt.charServerDown")
	h.eventBus.Unsubscribe(events.EventCharServerUp, "mqtt.charServerUp")
	h.eventBus.Unsubscribe(events.EventStartup, "mqtt.startup")
	h.eventBus.Unsubscribe(events.EventShutdown, "mqtt.shutdown")
}

func (h *MQTTHandler) clientSend(topic string, data []byte) {
	if !h.client.IsConnected() {
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

// publish sends payload to topic as JSON, wrapped with the metadata.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	h.send(topic, data)
}

func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onLoginAccepted(ctx context.Context, event events.Event) error {
	h.publish(TopicLoginAccepted, event.Payload)
	return nil
}

func (h *MQTTHandler) onLoginRefused(ctx context.Context, event events.Event) error {
	h.publish(TopicLoginRefused, event.Payload)
	return nil
}

func (h *MQTTHandler) onSessionClosed(ctx context.Context, event events.Event) error {
	h.publish(TopicSessionClosed, event.Payload)
	return nil
}

func (h *MQTTHandler) onCharServer(ctx context.Context, event events.Event) error {
	h.publish(TopicCharServer, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onSystem(ctx context.Context, event events.Event) error {
	h.publish(TopicAdmin, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}
