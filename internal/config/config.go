// Package config loads and validates the sniffer configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel          string                  `yaml:"log_level"`
	Capture           CaptureConfig           `yaml:"capture"`
	Lookup            LookupConfig            `yaml:"lookup"`
	GeoIP             GeoIPConfig             `yaml:"geoip"`
	UserIP            UserIPConfig            `yaml:"userip"`
	Presentation      PresentationConfig      `yaml:"presentation"`
	ModMenuLogs       []string                `yaml:"modmenu_logs"`
	ObservabilityHTTP ObservabilityHTTPConfig `yaml:"observability_http"`
}

type CaptureConfig struct {
	Interface     string `yaml:"interface"`
	TSharkPath    string `yaml:"tshark_path"`
	CaptureFilter string `yaml:"capture_filter"`
	DisplayFilter string `yaml:"display_filter"`

	// IPAddress pins the local endpoint; empty enables private-address
	// classification.
	IPAddress string `yaml:"ip_address"`

	// OverflowTimer is the per-packet latency ceiling in seconds before
	// the capture source is restarted.
	OverflowTimer int `yaml:"overflow_timer"`

	// ProgramPreset gates preset-specific heuristics such as session-host
	// detection.
	ProgramPreset string `yaml:"program_preset"`
}

type LookupConfig struct {
	Enabled bool `yaml:"enabled"`
}

type GeoIPConfig struct {
	CountryPath string `yaml:"country_path"`
	CityPath    string `yaml:"city_path"`
	ASNPath     string `yaml:"asn_path"`
}

type UserIPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasesDir string `yaml:"databases_dir"`
	DetectionLog string `yaml:"detection_log"`
}

type PresentationConfig struct {
	RefreshIntervalMS    int    `yaml:"refresh_interval_ms"`
	DisconnectedTimer    int    `yaml:"disconnected_timer"` // seconds
	DisconnectedCounter  int    `yaml:"disconnected_counter"`
	ResetPortsOnRejoins  bool   `yaml:"reset_ports_on_rejoins"`
	ConnectedSortedBy    string `yaml:"connected_sorted_by"`
	DisconnectedSortedBy string `yaml:"disconnected_sorted_by"`
}

type ObservabilityHTTPConfig struct {
	Addr    string `yaml:"addr"`
	Pprof   bool   `yaml:"pprof"`
	Metrics bool   `yaml:"metrics"`
}

// Load reads the YAML config at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment-specific values override the file without
// editing it. Combined with a .env overlay in main.
func (c *Config) applyEnv() {
	if v := os.Getenv("SNIFFER_CAPTURE_INTERFACE"); v != "" {
		c.Capture.Interface = v
	}
	if v := os.Getenv("SNIFFER_CAPTURE_IP_ADDRESS"); v != "" {
		c.Capture.IPAddress = v
	}
	if v := os.Getenv("SNIFFER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Capture.TSharkPath == "" {
		c.Capture.TSharkPath = "tshark"
	}
	if c.Capture.CaptureFilter == "" {
		c.Capture.CaptureFilter = "udp"
	}
	if c.Capture.OverflowTimer <= 0 {
		c.Capture.OverflowTimer = 3
	}
	if c.Presentation.RefreshIntervalMS <= 0 {
		c.Presentation.RefreshIntervalMS = 100
	}
	if c.Presentation.DisconnectedTimer <= 0 {
		c.Presentation.DisconnectedTimer = 10
	}
	if c.Presentation.ConnectedSortedBy == "" {
		c.Presentation.ConnectedSortedBy = "last_rejoin"
	}
	if c.Presentation.DisconnectedSortedBy == "" {
		c.Presentation.DisconnectedSortedBy = "last_seen"
	}
	if c.UserIP.Enabled && c.UserIP.DetectionLog == "" {
		c.UserIP.DetectionLog = "userip_detections.log"
	}
}

func (c *Config) Validate() error {
	if c.Capture.Interface == "" {
		return fmt.Errorf("capture.interface is required")
	}
	if c.Capture.IPAddress != "" {
		if _, err := netip.ParseAddr(c.Capture.IPAddress); err != nil {
			return fmt.Errorf("capture.ip_address %q is not a valid IP: %w", c.Capture.IPAddress, err)
		}
	}
	if c.UserIP.Enabled && c.UserIP.DatabasesDir == "" {
		return fmt.Errorf("userip.databases_dir is required when userip is enabled")
	}
	return nil
}

// LocalIP returns the pinned local address, or the zero Addr when
// classification is automatic.
func (c *Config) LocalIP() netip.Addr {
	if c.Capture.IPAddress == "" {
		return netip.Addr{}
	}
	addr, _ := netip.ParseAddr(c.Capture.IPAddress)
	return addr
}

// RefreshInterval returns the presentation cadence.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Presentation.RefreshIntervalMS) * time.Millisecond
}

// DisconnectTimeout returns the idle timeout after which a peer is
// promoted to disconnected.
func (c *Config) DisconnectTimeout() time.Duration {
	return time.Duration(c.Presentation.DisconnectedTimer) * time.Second
}

// OverflowLimit returns the per-packet latency ceiling.
func (c *Config) OverflowLimit() time.Duration {
	return time.Duration(c.Capture.OverflowTimer) * time.Second
}

// ParseLogLevel maps the configured level onto slog.
func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
