package config

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sniffer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
capture:
  interface: eth0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Capture.TSharkPath != "tshark" {
		t.Errorf("expected tshark default, got %q", cfg.Capture.TSharkPath)
	}
	if cfg.Capture.CaptureFilter != "udp" {
		t.Errorf("expected udp capture filter default, got %q", cfg.Capture.CaptureFilter)
	}
	if cfg.OverflowLimit() != 3*time.Second {
		t.Errorf("expected 3s overflow limit, got %v", cfg.OverflowLimit())
	}
	if cfg.RefreshInterval() != 100*time.Millisecond {
		t.Errorf("expected 100ms refresh, got %v", cfg.RefreshInterval())
	}
	if cfg.DisconnectTimeout() != 10*time.Second {
		t.Errorf("expected 10s disconnect timeout, got %v", cfg.DisconnectTimeout())
	}
	if cfg.Presentation.ConnectedSortedBy != "last_rejoin" {
		t.Errorf("expected last_rejoin sort default, got %q", cfg.Presentation.ConnectedSortedBy)
	}
	if cfg.Presentation.DisconnectedSortedBy != "last_seen" {
		t.Errorf("expected last_seen sort default, got %q", cfg.Presentation.DisconnectedSortedBy)
	}
	if cfg.LocalIP().IsValid() {
		t.Error("expected automatic classification when no IP is pinned")
	}
}

func TestLoadRequiresInterface(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing interface to fail validation")
	}
}

func TestLoadRejectsBadIPAddress(t *testing.T) {
	path := writeConfig(t, `
capture:
  interface: eth0
  ip_address: not-an-ip
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid ip_address to fail validation")
	}
}

func TestLoadUserIPRequiresDatabasesDir(t *testing.T) {
	path := writeConfig(t, `
capture:
  interface: eth0
userip:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected enabled userip without databases_dir to fail")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SNIFFER_CAPTURE_INTERFACE", "wlan0")
	t.Setenv("SNIFFER_CAPTURE_IP_ADDRESS", "192.168.1.50")
	t.Setenv("SNIFFER_LOG_LEVEL", "debug")

	path := writeConfig(t, `
log_level: info
capture:
  interface: eth0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Capture.Interface != "wlan0" {
		t.Errorf("expected interface override, got %q", cfg.Capture.Interface)
	}
	if cfg.LocalIP() != netip.MustParseAddr("192.168.1.50") {
		t.Errorf("expected pinned IP override, got %v", cfg.LocalIP())
	}
	if cfg.ParseLogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.ParseLogLevel())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.in}
		if got := cfg.ParseLogLevel(); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
