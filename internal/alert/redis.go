package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"netguard/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRedisChannel    = "netguard:events"
	DefaultRedisHistoryKey = "netguard:anomalies"
	DefaultRedisHistoryMax = 1000
)

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Channel    string `yaml:"channel"`
	HistoryKey string `yaml:"history_key"`
	HistoryMax int64  `yaml:"history_max"`
}

// RedisNotifier publishes events on a pub/sub channel and keeps a bounded
// time-ordered history of anomalies in a sorted set.
type RedisNotifier struct {
	client     *redis.Client
	channel    string
	historyKey string
	historyMax int64
	timeout    time.Duration
	logger     *logrus.Logger
}

func NewRedisNotifier(ctx context.Context, cfg RedisConfig, logger *logrus.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisNotifier(client, cfg, logger), nil
}

func newRedisNotifier(client *redis.Client, cfg RedisConfig, logger *logrus.Logger) *RedisNotifier {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.HistoryKey == "" {
		cfg.HistoryKey = DefaultRedisHistoryKey
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultRedisHistoryMax
	}
	return &RedisNotifier{
		client:     client,
		channel:    cfg.Channel,
		historyKey: cfg.HistoryKey,
		historyMax: cfg.HistoryMax,
		timeout:    5 * time.Second,
		logger:     logger,
	}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) SendEvent(event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if event.Type != model.EventAnomaly {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.historyKey, redis.Z{
		Score:  float64(event.Timestamp.UnixNano()),
		Member: string(data),
	})
	// Keep only the newest historyMax entries.
	pipe.ZRemRangeByRank(ctx, r.historyKey, 0, -r.historyMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record anomaly history: %w", err)
	}
	return nil
}

// RecentAnomalies returns up to limit anomaly events, newest first.
func (r *RedisNotifier) RecentAnomalies(ctx context.Context, limit int64) ([]model.Event, error) {
	if limit <= 0 {
		limit = r.historyMax
	}
	raw, err := r.client.ZRevRange(ctx, r.historyKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly history: %w", err)
	}

	events := make([]model.Event, 0, len(raw))
	for _, item := range raw {
		var e model.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			r.logger.Debugf("Skipping malformed anomaly history entry: %v", err)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
