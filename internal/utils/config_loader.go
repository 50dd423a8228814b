package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"netguard/internal/pipeline"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and validates the YAML configuration. A missing file is
// reported as an error wrapping fs.ErrNotExist so callers can fall back to
// GetDefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "configs/netguard.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate fills unset fields with defaults and rejects values the
// pipeline cannot run with.
func (c *Config) Validate() error {
	d := GetDefaultConfig()

	if c.Application.Interface == "" {
		c.Application.Interface = d.Application.Interface
	}
	if c.Application.APIPort == "" {
		c.Application.APIPort = d.Application.APIPort
	}

	if c.Capture.Tool == "" {
		c.Capture.Tool = d.Capture.Tool
	}
	if c.Capture.BufferSize <= 0 {
		c.Capture.BufferSize = d.Capture.BufferSize
	}

	if c.Scorer.URL == "" {
		c.Scorer.URL = d.Scorer.URL
	}
	if c.Scorer.Timeout <= 0 {
		c.Scorer.Timeout = d.Scorer.Timeout
	}
	if c.Scorer.Epochs <= 0 {
		c.Scorer.Epochs = d.Scorer.Epochs
	}
	if c.Scorer.RetrainInterval <= 0 {
		c.Scorer.RetrainInterval = d.Scorer.RetrainInterval
	}

	if c.Device.Host == "" {
		return fmt.Errorf("device host cannot be empty")
	}
	if c.Device.Port == 0 {
		c.Device.Port = d.Device.Port
	}
	if c.Device.Community == "" {
		c.Device.Community = d.Device.Community
	}
	if c.Device.Version == "" {
		c.Device.Version = d.Device.Version
	}
	if c.Device.Version != "1" && c.Device.Version != "2c" {
		return fmt.Errorf("unsupported device SNMP version %q", c.Device.Version)
	}
	if c.Device.Transport == "" {
		c.Device.Transport = d.Device.Transport
	}
	if c.Device.Transport != "udp" && c.Device.Transport != "tcp" {
		return fmt.Errorf("unsupported device transport %q", c.Device.Transport)
	}
	if c.Device.Timeout <= 0 {
		c.Device.Timeout = d.Device.Timeout
	}
	if c.Device.MaxReconnectAttempts <= 0 {
		c.Device.MaxReconnectAttempts = d.Device.MaxReconnectAttempts
	}
	if c.Device.ReconnectDelay <= 0 {
		c.Device.ReconnectDelay = d.Device.ReconnectDelay
	}

	if c.Response.Threshold == 0 {
		c.Response.Threshold = d.Response.Threshold
	}
	if c.Response.BlockThreshold == 0 {
		c.Response.BlockThreshold = d.Response.BlockThreshold
	}
	if c.Response.Threshold < 0 || c.Response.Threshold > 1 {
		return fmt.Errorf("response threshold %.2f must be within [0, 1]", c.Response.Threshold)
	}
	if c.Response.BlockThreshold < c.Response.Threshold || c.Response.BlockThreshold > 1 {
		return fmt.Errorf("response block_threshold %.2f must be within [threshold, 1]", c.Response.BlockThreshold)
	}
	if c.Response.BandwidthLimitBps <= 0 {
		c.Response.BandwidthLimitBps = d.Response.BandwidthLimitBps
	}
	if c.Response.Workers <= 0 {
		c.Response.Workers = d.Response.Workers
	}
	if c.Response.QueueSize <= 0 {
		c.Response.QueueSize = d.Response.QueueSize
	}
	if _, err := pipeline.NewAllowlist(c.Response.Allowlist); err != nil {
		return err
	}

	for i := range c.Rules {
		if c.Rules[i].Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if c.Rules[i].Severity == "" {
			c.Rules[i].Severity = "MEDIUM"
		}
		c.Rules[i].Severity = strings.ToUpper(c.Rules[i].Severity)
	}

	if c.Policies.StorePath == "" {
		c.Policies.StorePath = d.Policies.StorePath
	}

	if c.History.MaxPackets <= 0 {
		c.History.MaxPackets = d.History.MaxPackets
	}
	if c.History.MaxAnomalies <= 0 {
		c.History.MaxAnomalies = d.History.MaxAnomalies
	}

	if c.Prometheus.URL != "" && c.Prometheus.Timeout <= 0 {
		c.Prometheus.Timeout = 10 * time.Second
	}

	if c.Alerting.BufferSize <= 0 {
		c.Alerting.BufferSize = d.Alerting.BufferSize
	}
	if c.Alerting.Channels.Telegram && c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("telegram alerting requires bot_token and chat_id")
		}
	}
	if c.Alerting.Telegram.ParseMode == "" {
		c.Alerting.Telegram.ParseMode = d.Alerting.Telegram.ParseMode
	}
	if c.Alerting.Channels.Redis && c.Alerting.Redis.Addr == "" {
		c.Alerting.Redis.Addr = d.Alerting.Redis.Addr
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	c.Logging.Level = strings.ToUpper(c.Logging.Level)
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("unsupported logging format %q", c.Logging.Format)
	}

	return nil
}
