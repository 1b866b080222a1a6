// Package notify publishes device status transitions to an MQTT broker
// in a Home Assistant friendly shape.
//
// For every device with a known MAC three retained topics are kept:
// an HA discovery config under homeassistant/device_tracker, a status
// topic holding "online" or "offline", and an attributes topic with the
// device snapshot as JSON.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"lanwatch/internal/domain"
)

// Config holds broker settings.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	BaseTopic string `yaml:"base_topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Publisher sends status transitions to the broker. It satisfies the
// registry's Notifier interface.
type Publisher struct {
	client mqtt.Client
	base   string
	log    zerolog.Logger
}

// NewPublisher connects to the broker. Connection failures are returned
// so the caller can decide to run without notifications; once connected
// the client reconnects on its own.
func NewPublisher(cfg Config, log zerolog.Logger) (*Publisher, error) {
	base := cfg.BaseTopic
	if base == "" {
		base = "lanwatch"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(fmt.Sprintf("lanwatch-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s:%d: timeout", cfg.Broker, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s:%d: %w", cfg.Broker, cfg.Port, err)
	}

	return &Publisher{
		client: client,
		base:   base,
		log:    log.With().Str("component", "notify").Logger(),
	}, nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// DeviceOnline publishes the online state plus the HA discovery config.
func (p *Publisher) DeviceOnline(s domain.DeviceSnapshot) {
	p.publishStatus(s, "online")
	p.publishDiscovery(s)
}

// DeviceOffline publishes the offline state.
func (p *Publisher) DeviceOffline(s domain.DeviceSnapshot) {
	p.publishStatus(s, "offline")
}

func (p *Publisher) publishStatus(s domain.DeviceSnapshot, status string) {
	id := uniqueID(s.MAC)
	if id == "" {
		return
	}
	p.publish(fmt.Sprintf("%s/devices/%s/status", p.base, id), status)

	attrs, err := json.Marshal(s)
	if err != nil {
		p.log.Warn().Err(err).Str("device_id", s.ID).Msg("marshal attributes failed")
		return
	}
	p.publish(fmt.Sprintf("%s/devices/%s/attributes", p.base, id), string(attrs))
}

// publishDiscovery announces the device to Home Assistant as a
// device_tracker entity.
func (p *Publisher) publishDiscovery(s domain.DeviceSnapshot) {
	id := uniqueID(s.MAC)
	if id == "" {
		return
	}
	name := s.Name
	if name == "" {
		name = "Device " + s.MAC
	}
	payload := map[string]any{
		"name":             name,
		"unique_id":        id,
		"state_topic":      fmt.Sprintf("%s/devices/%s/status", p.base, id),
		"payload_home":     "online",
		"payload_not_home": "offline",
		"device": map[string]any{
			"identifiers":  []string{id},
			"name":         name,
			"manufacturer": s.Vendor,
			"model":        "Network Device",
			"connections":  [][]string{{"mac", s.MAC}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("device_id", s.ID).Msg("marshal discovery failed")
		return
	}
	p.publish(fmt.Sprintf("homeassistant/device_tracker/%s/config", id), string(body))
}

func (p *Publisher) publish(topic, payload string) {
	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// uniqueID derives the stable per-device topic segment from the MAC.
// Devices without a MAC are not announced.
func uniqueID(mac string) string {
	if mac == "" {
		return ""
	}
	return "lw_" + strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}

// Noop is a Notifier that drops everything. Used when MQTT is disabled.
type Noop struct{}

func (Noop) DeviceOnline(domain.DeviceSnapshot)  {}
func (Noop) DeviceOffline(domain.DeviceSnapshot) {}
