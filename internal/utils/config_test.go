package utils

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netguard/internal/pipeline"
	"netguard/internal/policy"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
application:
  interface: wlan0
device:
  host: 10.0.0.1
  reconnect_delay: 500ms
response:
  allowlist: ["10.0.0.0/8"]
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Application.Interface != "wlan0" {
		t.Errorf("interface = %q", cfg.Application.Interface)
	}
	if cfg.Device.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("reconnect delay = %v", cfg.Device.ReconnectDelay)
	}
	if cfg.Device.MaxReconnectAttempts != policy.DefaultMaxReconnectAttempts {
		t.Errorf("max reconnect attempts = %d", cfg.Device.MaxReconnectAttempts)
	}
	if cfg.Device.Port != policy.DefaultPort || cfg.Device.Version != "2c" || cfg.Device.Transport != "udp" {
		t.Errorf("device defaults not applied: %+v", cfg.Device)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}

	want := pipeline.Config{
		Interface:         "wlan0",
		Threshold:         pipeline.DefaultThreshold,
		BlockThreshold:    pipeline.DefaultBlockThreshold,
		BandwidthLimitBps: pipeline.DefaultBandwidthLimitBps,
		Workers:           pipeline.DefaultWorkers,
		QueueSize:         pipeline.DefaultQueueSize,
		Allowlist:         []string{"10.0.0.0/8"},
		RetrainInterval:   time.Hour,
		Epochs:            10,
	}
	if diff := cmp.Diff(want, cfg.PipelineConfig()); diff != "" {
		t.Errorf("PipelineConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no device host", "device: {host: \"\"}\n"},
		{"bad snmp version", "device: {host: h, version: \"3\"}\n"},
		{"bad transport", "device: {host: h, transport: sctp}\n"},
		{"threshold above one", "device: {host: h}\nresponse: {threshold: 1.5}\n"},
		{"block below threshold", "device: {host: h}\nresponse: {threshold: 0.85, block_threshold: 0.8}\n"},
		{"bad allowlist", "device: {host: h}\nresponse: {allowlist: [\"not-an-ip\"]}\n"},
		{"telegram without token", "device: {host: h}\nalerting: {channels: {telegram: true}, telegram: {enabled: true}}\n"},
		{"bad log format", "device: {host: h}\nlogging: {format: xml}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("LoadConfig() succeeded, want validation error")
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if diff := cmp.Diff(GetDefaultConfig(), cfg); diff != "" {
		t.Errorf("Validate() changed the defaults (-want +got):\n%s", diff)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := GetDefaultConfig()
	cfg.Response.Allowlist = []string{"192.168.0.0/16"}
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "netguard.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Device.Community != "private" || len(cfg.Response.Allowlist) != 2 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
