// Package config loads server configuration from YAML and watches the
// file for tunable changes at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"lanwatch/internal/notify"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Scan     ScanConfig     `yaml:"scan"`
	MQTT     notify.Config  `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the sqlite location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScanConfig holds discovery targets and prober tunables.
type ScanConfig struct {
	// Subnets are the CIDR blocks swept by the periodic discovery scan.
	Subnets []string `yaml:"subnets"`
	// IntervalSeconds is the period between discovery sweeps.
	IntervalSeconds int `yaml:"interval_seconds"`
	// HostConcurrency caps how many hosts are probed at once per scan.
	HostConcurrency int `yaml:"host_concurrency"`
	// PortConcurrency caps simultaneous port probes per host.
	PortConcurrency int `yaml:"port_concurrency"`
	// PingConcurrency caps simultaneous ICMP pingers.
	PingConcurrency int `yaml:"ping_concurrency"`
	// PortTimeoutMS is the TCP connect timeout per port.
	PortTimeoutMS int `yaml:"port_timeout_ms"`
	// ARPTimeoutSeconds is how long an ARP sweep listens for replies.
	ARPTimeoutSeconds int `yaml:"arp_timeout_seconds"`
	// OfflineAfterSeconds ages devices out to offline when no sweep has
	// refreshed them for this long.
	OfflineAfterSeconds int `yaml:"offline_after_seconds"`
}

// LogConfig holds log output settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// PortTimeout returns the port connect timeout as a duration.
func (s ScanConfig) PortTimeout() time.Duration {
	return time.Duration(s.PortTimeoutMS) * time.Millisecond
}

// ARPTimeout returns the ARP listen window as a duration.
func (s ScanConfig) ARPTimeout() time.Duration {
	return time.Duration(s.ARPTimeoutSeconds) * time.Second
}

// OfflineAfter returns the age-out window for the periodic offline
// sweep. The window never undercuts two discovery intervals, otherwise
// healthy devices would flap offline between sweeps.
func (s ScanConfig) OfflineAfter() time.Duration {
	d := time.Duration(s.OfflineAfterSeconds) * time.Second
	if min := 2 * time.Duration(s.IntervalSeconds) * time.Second; d < min {
		d = min
	}
	return d
}

// Load reads the config file at path. A missing file yields defaults;
// a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "lanwatch.db"
	}
	if c.Scan.IntervalSeconds <= 0 {
		c.Scan.IntervalSeconds = 300
	}
	if c.Scan.HostConcurrency <= 0 {
		c.Scan.HostConcurrency = 4
	}
	if c.Scan.PortConcurrency <= 0 {
		c.Scan.PortConcurrency = 50
	}
	if c.Scan.PingConcurrency <= 0 {
		c.Scan.PingConcurrency = 50
	}
	if c.Scan.PortTimeoutMS <= 0 {
		c.Scan.PortTimeoutMS = 1000
	}
	if c.Scan.ARPTimeoutSeconds <= 0 {
		c.Scan.ARPTimeoutSeconds = 5
	}
	if c.Scan.OfflineAfterSeconds <= 0 {
		c.Scan.OfflineAfterSeconds = 600
	}
	if c.MQTT.Port <= 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "lanwatch"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
