package utils

import (
	"fmt"
	"os"
	"time"

	"netguard/internal/alert"
	"netguard/internal/capture"
	"netguard/internal/pipeline"
	"netguard/internal/policy"
	"netguard/internal/rules"
	"netguard/internal/scorer"
	"netguard/internal/storage"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk YAML configuration for netguard.
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Capture     capture.Config    `yaml:"capture"`
	Scorer      ScorerConfig      `yaml:"scorer"`
	Device      policy.Config     `yaml:"device"`
	Response    ResponseConfig    `yaml:"response"`
	Rules       []rules.Config    `yaml:"rules"`
	Policies    PoliciesConfig    `yaml:"policies"`
	History     HistoryConfig     `yaml:"history"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ApplicationConfig struct {
	Interface   string `yaml:"interface"`
	Filter      string `yaml:"filter"`
	APIPort     string `yaml:"api_port"`
	MetricsPort string `yaml:"metrics_port"`
	RulesFile   string `yaml:"rules_file,omitempty"`
}

type ScorerConfig struct {
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	Epochs            int           `yaml:"epochs"`
	RetrainInterval   time.Duration `yaml:"retrain_interval"`
	HeuristicFallback bool          `yaml:"heuristic_fallback"`
	LearnFromFallback bool          `yaml:"learn_from_fallback"`
}

type ResponseConfig struct {
	Threshold         float64  `yaml:"threshold"`
	BlockThreshold    float64  `yaml:"block_threshold"`
	BandwidthLimitBps int      `yaml:"bandwidth_limit_bps"`
	Workers           int      `yaml:"workers"`
	QueueSize         int      `yaml:"queue_size"`
	Allowlist         []string `yaml:"allowlist"`
}

type PoliciesConfig struct {
	StorePath string `yaml:"store_path"`
}

// PrometheusConfig points at a Prometheus server scraping netguard. Empty
// URL disables the metric history endpoint.
type PrometheusConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type HistoryConfig struct {
	MaxPackets   int `yaml:"max_packets"`
	MaxAnomalies int `yaml:"max_anomalies"`
}

type AlertingConfig struct {
	Enabled    bool              `yaml:"enabled"`
	BufferSize int               `yaml:"buffer_size"`
	Channels   AlertChannels     `yaml:"channels"`
	Telegram   TelegramConfig    `yaml:"telegram"`
	Redis      alert.RedisConfig `yaml:"redis"`
}

type AlertChannels struct {
	Log      bool `yaml:"log"`
	Telegram bool `yaml:"telegram"`
	Redis    bool `yaml:"redis"`
}

type TelegramConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GetDefaultConfig returns a complete configuration with every default filled in.
func GetDefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Interface:   "eth0",
			APIPort:     "5001",
			MetricsPort: "8080",
		},
		Capture: capture.Config{
			Tool:       capture.DefaultTool,
			BufferSize: capture.DefaultBufferSize,
		},
		Scorer: ScorerConfig{
			URL:               scorer.DefaultURL,
			Timeout:           scorer.DefaultTimeout,
			Epochs:            scorer.DefaultEpochs,
			RetrainInterval:   pipeline.DefaultRetrainInterval,
			HeuristicFallback: true,
		},
		Device: policy.Config{
			Host:                 "127.0.0.1",
			Port:                 policy.DefaultPort,
			Community:            policy.DefaultCommunity,
			Version:              "2c",
			Transport:            "udp",
			Timeout:              policy.DefaultTimeout,
			MaxReconnectAttempts: policy.DefaultMaxReconnectAttempts,
			ReconnectDelay:       policy.DefaultReconnectDelay,
		},
		Response: ResponseConfig{
			Threshold:         pipeline.DefaultThreshold,
			BlockThreshold:    pipeline.DefaultBlockThreshold,
			BandwidthLimitBps: pipeline.DefaultBandwidthLimitBps,
			Workers:           pipeline.DefaultWorkers,
			QueueSize:         pipeline.DefaultQueueSize,
		},
		Rules: []rules.Config{
			{
				Name:        "ddos",
				Enabled:     true,
				Severity:    "CRITICAL",
				Description: "Packet flood from a single source",
				Thresholds:  map[string]interface{}{"packets_per_window": 1000},
			},
			{
				Name:        "port_scan",
				Enabled:     true,
				Severity:    "HIGH",
				Description: "Many distinct destination ports from one source",
				Thresholds:  map[string]interface{}{"distinct_ports": 10},
			},
			{
				Name:        "tcp_reset_surge",
				Enabled:     true,
				Severity:    "MEDIUM",
				Description: "TCP reset surge from one source",
				Thresholds:  map[string]interface{}{"per_window": 10},
			},
			{
				Name:        "suspicious_outbound",
				Enabled:     false,
				Severity:    "MEDIUM",
				Description: "Host sweep across many destinations",
				Thresholds:  map[string]interface{}{"distinct_destinations": 50},
			},
		},
		Policies: PoliciesConfig{
			StorePath: "data/policies.json",
		},
		History: HistoryConfig{
			MaxPackets:   storage.DefaultMaxPackets,
			MaxAnomalies: storage.DefaultMaxAnomalies,
		},
		Alerting: AlertingConfig{
			Enabled:    true,
			BufferSize: alert.DefaultBufferSize,
			Channels: AlertChannels{
				Log: true,
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			Redis: alert.RedisConfig{
				Addr:    "localhost:6379",
				Channel: alert.DefaultRedisChannel,
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// SaveConfig writes the configuration as YAML.
func (c *Config) SaveConfig(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}

// PipelineConfig projects the file layout onto the orchestrator's settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Interface:         c.Application.Interface,
		Filter:            c.Application.Filter,
		Threshold:         c.Response.Threshold,
		BlockThreshold:    c.Response.BlockThreshold,
		BandwidthLimitBps: c.Response.BandwidthLimitBps,
		Workers:           c.Response.Workers,
		QueueSize:         c.Response.QueueSize,
		Allowlist:         c.Response.Allowlist,
		RetrainInterval:   c.Scorer.RetrainInterval,
		Epochs:            c.Scorer.Epochs,
		HeuristicFallback: c.Scorer.HeuristicFallback,
		LearnFromFallback: c.Scorer.LearnFromFallback,
	}
}

func (c *Config) ScorerClientConfig() scorer.Config {
	return scorer.Config{
		URL:     c.Scorer.URL,
		Timeout: c.Scorer.Timeout,
		Epochs:  c.Scorer.Epochs,
	}
}
