// Package mqtt pushes caregiver-facing notifications and runtime
// telemetry to an MQTT broker. SOS alerts, caregiver shares, and fired
// check-ins arrive over the internal event bus and are republished on
// stable topics that the companion app and home hub subscribe to.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/miraii-health/elai-agent/internal/config"
	"github.com/miraii-health/elai-agent/internal/events"
)

// StatsSource provides runtime data for the telemetry loop. The
// concrete adapter is wired in main to avoid coupling this package to
// the agent or API server.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
	// Model returns the configured LLM model name.
	Model() string
	// ActiveSessions returns the count of in-memory conversation sessions.
	ActiveSessions() int
}

// Notifier manages the MQTT connection, forwards alert events from the
// bus, and runs a periodic loop that pushes telemetry to the broker.
type Notifier struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	stats  StatsSource
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	// fallbacks counts canned-responder turns seen on the bus. Only the
	// runLoop goroutine touches it.
	fallbacks int64
}

// New creates a Notifier but does not connect. Call [Notifier.Start]
// to begin the connection and forwarding loops.
func New(cfg config.MQTTConfig, bus *events.Bus, stats StatsSource, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:    cfg,
		bus:    bus,
		stats:  stats,
		logger: logger,
	}
}

// Start connects to the MQTT broker and runs the forwarding and
// telemetry loops. It blocks until ctx is cancelled. The broker marks
// the device offline via the will message if the process dies.
func (n *Notifier) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   n.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected to broker", "broker", n.cfg.Broker)
			n.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "elai-" + n.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	n.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		n.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	n.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message before closing the
// MQTT connection.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.cm == nil {
		return nil
	}
	n.publishAvailability(ctx, n.cm, "offline")
	return n.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (n *Notifier) baseTopic() string {
	return "elai/" + n.cfg.DeviceName
}

func (n *Notifier) availabilityTopic() string {
	return n.baseTopic() + "/availability"
}

func (n *Notifier) stateTopic(entity string) string {
	return n.baseTopic() + "/" + entity + "/state"
}

// alertTopic maps an event kind to its outbound topic, or "" for
// kinds that are not forwarded.
func (n *Notifier) alertTopic(kind string) string {
	switch kind {
	case events.KindSOSRaised:
		return n.baseTopic() + "/alerts/sos"
	case events.KindCaregiverShare:
		return n.baseTopic() + "/alerts/caregiver"
	case events.KindCheckInFired:
		return n.baseTopic() + "/alerts/checkin"
	}
	return ""
}

// alertPayload is the JSON body published for each forwarded event.
type alertPayload struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// --- Loops ---

func (n *Notifier) runLoop(ctx context.Context) {
	interval := time.Duration(n.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ch := n.bus.Subscribe(64)
	defer n.bus.Unsubscribe(ch)

	n.publishTelemetry(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind == events.KindLLMFallback {
				n.fallbacks++
			}
			n.forward(ctx, e)
		case <-ticker.C:
			n.publishTelemetry(ctx)
		}
	}
}

// forward republishes one bus event to its alert topic. Non-alert
// kinds are dropped.
func (n *Notifier) forward(ctx context.Context, e events.Event) {
	topic := n.alertTopic(e.Kind)
	if topic == "" || n.cm == nil {
		return
	}

	payload, err := json.Marshal(alertPayload{
		Timestamp: e.Timestamp,
		Kind:      e.Kind,
		Data:      e.Data,
	})
	if err != nil {
		n.logger.Error("mqtt marshal alert payload", "kind", e.Kind, "error", err)
		return
	}

	if _, err := n.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		n.logger.Warn("mqtt alert publish failed",
			"kind", e.Kind, "topic", topic, "error", err)
		return
	}
	n.logger.Info("mqtt alert published", "kind", e.Kind, "topic", topic)
}

func (n *Notifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
		return
	}
	n.logger.Info("mqtt availability published", "status", status)
}

func (n *Notifier) publishTelemetry(ctx context.Context) {
	if n.cm == nil || n.stats == nil {
		return
	}

	states := map[string]string{
		"uptime":          n.stats.Uptime().Truncate(time.Second).String(),
		"version":         n.stats.Version(),
		"model":           n.stats.Model(),
		"active_sessions": strconv.Itoa(n.stats.ActiveSessions()),
		"fallbacks":       strconv.FormatInt(n.fallbacks, 10),
	}

	for entity, value := range states {
		if _, err := n.cm.Publish(ctx, &paho.Publish{
			Topic:   n.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			n.logger.Debug("mqtt telemetry publish failed",
				"entity", entity, "error", err)
		}
	}

	n.logger.Debug("mqtt telemetry published", "entities", len(states))
}
