// Package config holds the application configuration: where the UI and the
// simulator live, which definition file to load, and the optional mirror and
// metrics endpoints. Configuration is a JSON file plus defaults; validation
// happens once, before anything starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/airdeck/skybridge/errors"
)

// Defaults applied by Load for absent fields.
const (
	DefaultPluginID   = "tp.plugin.skybridge"
	DefaultStatesFile = "states.json"
	DefaultSampleRate = 2  // Hz per subscribed dataref
	DefaultMaxDataref = 80 // simulator-side cap on concurrent subscriptions

	defaultReconnectInterval = 10 * time.Second
)

// TouchPortalConfig locates the desktop UI.
type TouchPortalConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	PluginID string `json:"plugin_id"`
}

// XPlaneConfig tunes discovery and the telemetry session.
type XPlaneConfig struct {
	BeaconGroup      string   `json:"beacon_group"`
	BeaconPort       int      `json:"beacon_port"`
	ReconnectSeconds int      `json:"reconnect_seconds"`
	SampleRate       int      `json:"sample_rate"`
	MaxDatarefs      int      `json:"max_datarefs"`
	reconnect        time.Duration
}

// ReconnectInterval returns the pause between connection attempts.
func (x XPlaneConfig) ReconnectInterval() time.Duration {
	return x.reconnect
}

// MirrorConfig configures the optional NATS event mirror. An empty URL
// disables it.
type MirrorConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// Config is the complete application configuration.
type Config struct {
	TouchPortal TouchPortalConfig `json:"touchportal"`
	XPlane      XPlaneConfig      `json:"xplane"`
	StatesFile  string            `json:"states_file"`
	Mirror      MirrorConfig      `json:"mirror"`
	Metrics     MetricsConfig     `json:"metrics"`
	LogLevel    string            `json:"log_level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a JSON configuration file, applies defaults, and validates. A
// missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapCatalog(
				fmt.Errorf("read %s: %w", path, err),
				"Config", "Load", "file read")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapCatalog(
				fmt.Errorf("%w: %v", errors.ErrInvalidDocument, err),
				"Config", "Load", "file parsing")
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TouchPortal.Host == "" {
		c.TouchPortal.Host = "127.0.0.1"
	}
	if c.TouchPortal.Port == 0 {
		c.TouchPortal.Port = 12136
	}
	if c.TouchPortal.PluginID == "" {
		c.TouchPortal.PluginID = DefaultPluginID
	}

	if c.XPlane.BeaconGroup == "" {
		c.XPlane.BeaconGroup = "239.255.1.1"
	}
	if c.XPlane.BeaconPort == 0 {
		c.XPlane.BeaconPort = 49707
	}
	if c.XPlane.SampleRate == 0 {
		c.XPlane.SampleRate = DefaultSampleRate
	}
	if c.XPlane.MaxDatarefs == 0 {
		c.XPlane.MaxDatarefs = DefaultMaxDataref
	}
	if c.XPlane.ReconnectSeconds > 0 {
		c.XPlane.reconnect = time.Duration(c.XPlane.ReconnectSeconds) * time.Second
	} else {
		c.XPlane.reconnect = defaultReconnectInterval
	}

	if c.StatesFile == "" {
		c.StatesFile = DefaultStatesFile
	}
	if c.Mirror.URL != "" && c.Mirror.SubjectPrefix == "" {
		c.Mirror.SubjectPrefix = "skybridge"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks field ranges. Called by Load; exported for callers that
// build a Config in code.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return errors.WrapCatalog(
			fmt.Errorf("%w: %s", errors.ErrInvalidDocument, msg),
			"Config", "Validate", "field validation")
	}

	if c.TouchPortal.Port < 1 || c.TouchPortal.Port > 65535 {
		return fail(fmt.Sprintf("touchportal.port %d out of range", c.TouchPortal.Port))
	}
	if c.XPlane.BeaconPort < 1 || c.XPlane.BeaconPort > 65535 {
		return fail(fmt.Sprintf("xplane.beacon_port %d out of range", c.XPlane.BeaconPort))
	}
	if c.XPlane.SampleRate < 1 || c.XPlane.SampleRate > 100 {
		return fail(fmt.Sprintf("xplane.sample_rate %d out of range", c.XPlane.SampleRate))
	}
	if c.XPlane.MaxDatarefs < 1 {
		return fail(fmt.Sprintf("xplane.max_datarefs %d out of range", c.XPlane.MaxDatarefs))
	}
	if c.XPlane.ReconnectSeconds < 0 {
		return fail("xplane.reconnect_seconds must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fail(fmt.Sprintf("log_level %q unknown", c.LogLevel))
	}
	return nil
}
