// Package scorer talks to the remote anomaly scoring service.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"netguard/internal/client"
	"netguard/internal/features"
	"netguard/internal/model"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultURL     = "http://localhost:5000"
	DefaultTimeout = 10 * time.Second
	DefaultEpochs  = 10

	eventSource = "scorer"
	statusError = "error"
)

type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Epochs  int           `yaml:"epochs"`
}

// Client is a scoring service client. Train is single-flight per Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	emitter    model.Emitter
	metrics    *client.PrometheusMetrics
	logger     *logrus.Logger

	training *semaphore.Weighted
	pending  sync.WaitGroup

	mu          sync.RWMutex
	lastTrained *time.Time
}

type predictRequest struct {
	Features []float64 `json:"features"`
	Version  int       `json:"version"`
}

type predictResponse struct {
	Status      string   `json:"status,omitempty"`
	Message     string   `json:"message,omitempty"`
	IsAnomaly   *bool    `json:"is_anomaly"`
	Confidence  *float64 `json:"confidence"`
	AnomalyType string   `json:"anomaly_type"`
	Details     string   `json:"details"`
}

type trainingExample struct {
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
}

type trainRequest struct {
	Epochs   int               `json:"epochs,omitempty"`
	Examples []trainingExample `json:"examples,omitempty"`
	Version  int               `json:"version"`
}

type trainResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	SamplesTrained int    `json:"samples_trained"`
}

type healthResponse struct {
	Status           string          `json:"status"`
	ModelInitialized bool            `json:"model_initialized"`
	LastTrainingTime json.RawMessage `json:"last_training_time"`
}

type statsResponse struct {
	ModelInitialized bool            `json:"model_initialized"`
	LastTrainingTime json.RawMessage `json:"last_training_time"`
	TrainingDataSize int             `json:"training_data_size"`
	QueueSize        int             `json:"queue_size"`
}

func NewClient(cfg Config, emitter model.Emitter, logger *logrus.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if emitter == nil {
		emitter = model.NopEmitter{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		emitter:  emitter,
		logger:   logger,
		training: semaphore.NewWeighted(1),
	}
}

func (c *Client) SetMetrics(m *client.PrometheusMetrics) {
	c.metrics = m
}

// Initialize health-checks the service. It does not retry.
func (c *Client) Initialize(ctx context.Context) error {
	var health healthResponse
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &health); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if health.Status == statusError {
		return fmt.Errorf("%w: health status %q", ErrServiceUnavailable, health.Status)
	}

	c.logger.Infof("Scoring service at %s is healthy (model initialized: %v)", c.baseURL, health.ModelInitialized)
	return nil
}

// DetectAnomaly scores one feature vector.
func (c *Client) DetectAnomaly(ctx context.Context, vec model.FeatureVector) (model.ScoreResult, error) {
	start := time.Now()
	var resp predictResponse
	err := c.do(ctx, "predict", http.MethodPost, "/predict", predictRequest{
		Features: vec,
		Version:  features.Version,
	}, &resp)
	if err == nil {
		err = resp.validate()
	}
	if err != nil {
		c.metrics.RecordScore("error", time.Since(start))
		return model.ScoreResult{}, asCallError("predict", err)
	}
	c.metrics.RecordScore("ok", time.Since(start))

	return model.ScoreResult{
		IsAnomaly:  *resp.IsAnomaly,
		Confidence: *resp.Confidence,
		Label:      resp.AnomalyType,
		Detail:     resp.Details,
	}, nil
}

func (r predictResponse) validate() error {
	if r.Status == statusError {
		return fmt.Errorf("service reported error: %s", r.Message)
	}
	if r.IsAnomaly == nil || r.Confidence == nil {
		return errors.New("malformed response: missing is_anomaly or confidence")
	}
	if *r.Confidence < 0 || *r.Confidence > 1 {
		return fmt.Errorf("malformed response: confidence %v out of range", *r.Confidence)
	}
	return nil
}

// AddTrainingExample submits one labeled packet in the background. Failures
// are reported as error events.
func (c *Client) AddTrainingExample(p model.PacketRecord, isAnomaly bool) {
	label := 0
	if isAnomaly {
		label = 1
	}
	body := trainRequest{
		Examples: []trainingExample{{Features: features.Extract(p), Label: label}},
		Version:  features.Version,
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		var resp trainResponse
		err := c.do(ctx, "train", http.MethodPost, "/train", body, &resp)
		if err == nil && resp.Status == statusError {
			err = fmt.Errorf("service reported error: %s", resp.Message)
		}
		if err != nil {
			err = asCallError("train", err)
			c.logger.Warnf("Failed to submit training example: %v", err)
			c.emitter.Emit(model.NewErrorEvent(model.EventError, eventSource, "training example rejected", err))
		}
	}()
}

// Flush waits for background training submissions to finish.
func (c *Client) Flush() {
	c.pending.Wait()
}

// Train triggers a retraining run. A second call while one is in flight
// fails immediately with ErrTrainingInProgress.
func (c *Client) Train(ctx context.Context, epochs int) (*model.TrainingResult, error) {
	if !c.training.TryAcquire(1) {
		return nil, ErrTrainingInProgress
	}
	defer c.training.Release(1)

	if epochs <= 0 {
		epochs = DefaultEpochs
	}

	c.logger.Infof("Starting model retraining (%d epochs)", epochs)

	var resp trainResponse
	err := c.do(ctx, "train", http.MethodPost, "/train", trainRequest{Epochs: epochs, Version: features.Version}, &resp)
	if err == nil && resp.Status == statusError {
		err = fmt.Errorf("service reported error: %s", resp.Message)
	}
	if err != nil {
		c.metrics.RecordTraining("error")
		return nil, asCallError("train", err)
	}
	c.metrics.RecordTraining("ok")

	now := time.Now()
	c.mu.Lock()
	c.lastTrained = &now
	c.mu.Unlock()

	result := &model.TrainingResult{
		Status:         resp.Status,
		Message:        resp.Message,
		SamplesTrained: resp.SamplesTrained,
		Epochs:         epochs,
		CompletedAt:    now,
	}

	c.logger.Infof("Model retraining complete: %d samples", resp.SamplesTrained)
	event := model.NewEvent(model.EventTrainingComplete, eventSource, "model retraining complete")
	event.Training = result
	c.emitter.Emit(event)

	return result, nil
}

// LastTrained returns the time of the last successful Train call, or nil.
func (c *Client) LastTrained() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastTrained == nil {
		return nil
	}
	t := *c.lastTrained
	return &t
}

// GetModelStats merges the service's stats with the locally tracked
// last-training time.
func (c *Client) GetModelStats(ctx context.Context) (model.ModelStats, error) {
	var resp statsResponse
	if err := c.do(ctx, "stats", http.MethodGet, "/stats", nil, &resp); err != nil {
		return model.ModelStats{LastTrainedLocal: c.LastTrained()}, asCallError("stats", err)
	}

	return model.ModelStats{
		ModelInitialized: resp.ModelInitialized,
		LastTrainingTime: parseServiceTime(resp.LastTrainingTime),
		TrainingDataSize: resp.TrainingDataSize,
		QueueSize:        resp.QueueSize,
		LastTrainedLocal: c.LastTrained(),
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceCallError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ServiceCallError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(msg))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceCallError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func asCallError(op string, err error) error {
	var callErr *ServiceCallError
	if errors.As(err, &callErr) {
		return err
	}
	return &ServiceCallError{Op: op, Err: err}
}

// parseServiceTime accepts RFC 3339 strings or unix seconds; null and
// anything else yield nil.
func parseServiceTime(raw json.RawMessage) *time.Time {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, str); err == nil {
				return &t
			}
		}
		if secs, err := strconv.ParseFloat(str, 64); err == nil {
			t := unixFloat(secs)
			return &t
		}
		return nil
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		t := unixFloat(secs)
		return &t
	}
	return nil
}

func unixFloat(secs float64) time.Time {
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9))
}
