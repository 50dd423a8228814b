// Package pipeline runs capture, scoring and automated response as one
// long-lived pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"netguard/internal/client"
	"netguard/internal/model"
	"netguard/internal/policy"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultThreshold         = 0.8
	DefaultBlockThreshold    = 0.9
	DefaultBandwidthLimitBps = 1_000_000
	DefaultWorkers           = 2
	DefaultQueueSize         = 100
	DefaultRetrainInterval   = time.Hour

	eventSource = "pipeline"
)

var (
	// ErrAlreadyRunning is returned by Start on a running orchestrator.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrHalted reports that the pipeline stopped taking work because the
	// device connection could not be recovered.
	ErrHalted = errors.New("pipeline halted: device connection exhausted")
)

// CaptureSource produces packet records from a live interface.
type CaptureSource interface {
	StartCapture(interfaceName, filter string) error
	StopCapture() error
	IsActive() bool
	Packets() <-chan model.PacketRecord
}

// Detector classifies feature vectors and manages model training.
type Detector interface {
	Initialize(ctx context.Context) error
	DetectAnomaly(ctx context.Context, vec model.FeatureVector) (model.ScoreResult, error)
	AddTrainingExample(p model.PacketRecord, isAnomaly bool)
	Train(ctx context.Context, epochs int) (*model.TrainingResult, error)
	GetModelStats(ctx context.Context) (model.ModelStats, error)
}

// DeviceManager enforces policies on the managed device.
type DeviceManager interface {
	Connect() error
	Disconnect() error
	GetStats() (model.DeviceStats, error)
	ApplyPolicy(p model.Policy) error
	Policies() []model.Policy
	State() string
}

// PacketRecorder receives every captured packet, e.g. for recent history.
type PacketRecorder interface {
	RecordPacket(p model.PacketRecord)
}

type Config struct {
	Interface         string
	Filter            string
	Threshold         float64
	BlockThreshold    float64
	BandwidthLimitBps int
	Workers           int
	QueueSize         int
	Allowlist         []string
	RetrainInterval   time.Duration
	Epochs            int
	HeuristicFallback bool
	LearnFromFallback bool
}

// Status is the aggregated pipeline view for external reporting.
type Status struct {
	Running           bool                `json:"running"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	Interface         string              `json:"interface"`
	CaptureActive     bool                `json:"capture_active"`
	DeviceState       string              `json:"device_state"`
	DeviceStats       *model.DeviceStats  `json:"device_stats,omitempty"`
	DeviceError       string              `json:"device_error,omitempty"`
	Model             *model.ModelStats   `json:"model,omitempty"`
	ModelError        string              `json:"model_error,omitempty"`
	Policies          []model.Policy      `json:"policies"`
	Enforced          map[string]Response `json:"enforced"`
	PacketsProcessed  uint64              `json:"packets_processed"`
	AnomaliesDetected uint64              `json:"anomalies_detected"`
	ResponseQueue     int                 `json:"response_queue"`
	Halted            bool                `json:"halted"`
}

type Orchestrator struct {
	cfg       Config
	capture   CaptureSource
	detector  Detector
	device    DeviceManager
	processor *Processor
	allowlist *Allowlist
	enforced  *enforcement
	emitter   model.Emitter
	metrics   *client.PrometheusMetrics
	recorder  PacketRecorder
	logger    *logrus.Logger

	queue chan responseJob

	processed atomic.Uint64
	anomalies atomic.Uint64
	halted    atomic.Bool

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
	haltCh    chan struct{}
}

func NewOrchestrator(cfg Config, capture CaptureSource, detector Detector, device DeviceManager, emitter model.Emitter, logger *logrus.Logger) (*Orchestrator, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = DefaultBlockThreshold
	}
	if cfg.BandwidthLimitBps <= 0 {
		cfg.BandwidthLimitBps = DefaultBandwidthLimitBps
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = DefaultRetrainInterval
	}
	if emitter == nil {
		emitter = model.NopEmitter{}
	}

	allowlist, err := NewAllowlist(cfg.Allowlist)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       cfg,
		capture:   capture,
		detector:  detector,
		device:    device,
		processor: NewProcessor(detector, cfg.HeuristicFallback, cfg.LearnFromFallback, emitter, logger),
		allowlist: allowlist,
		enforced:  newEnforcement(),
		emitter:   emitter,
		logger:    logger,
		queue:     make(chan responseJob, cfg.QueueSize),
		haltCh:    make(chan struct{}),
	}, nil
}

func (o *Orchestrator) SetMetrics(m *client.PrometheusMetrics) {
	o.metrics = m
}

// SetRules adds local detection rules next to the scoring service.
func (o *Orchestrator) SetRules(r RuleEvaluator) {
	o.processor.SetRules(r)
}

func (o *Orchestrator) SetPacketRecorder(r PacketRecorder) {
	o.recorder = r
}

// Start connects the device, starts capture and checks the scoring service,
// in that order. A failed step is returned as is; whatever already started
// is left running until Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.running = true
	o.startedAt = time.Now()
	o.cancel = cancel
	o.halted.Store(false)
	o.haltCh = make(chan struct{})
	halt := o.haltCh

	if err := o.device.Connect(); err != nil {
		return fmt.Errorf("failed to connect device: %w", err)
	}
	if err := o.capture.StartCapture(o.cfg.Interface, o.cfg.Filter); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	if err := o.detector.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize scorer: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		o.detectLoop(gctx, halt)
		return nil
	})
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			o.responseWorker(gctx)
			return nil
		})
	}
	g.Go(func() error {
		o.retrainLoop(gctx)
		return nil
	})
	o.group = g

	o.logger.Infof("Pipeline started on %q (threshold %.2f, %d response workers)",
		o.cfg.Interface, o.cfg.Threshold, o.cfg.Workers)
	o.emitter.Emit(model.NewEvent(model.EventPipelineStarted, eventSource, "pipeline started"))
	return nil
}

// Stop halts capture, drains the workers and disconnects the device. Safe
// to call at any time, including after a failed Start.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel, g := o.cancel, o.group
	o.cancel, o.group = nil, nil
	o.mu.Unlock()

	cancel()

	var errs []error
	if err := o.capture.StopCapture(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop capture: %w", err))
	}
	if g != nil {
		_ = g.Wait()
	}
	if err := o.device.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("failed to disconnect device: %w", err))
	}

	o.logger.Info("Pipeline stopped")
	o.emitter.Emit(model.NewEvent(model.EventPipelineStopped, eventSource, "pipeline stopped"))
	return errors.Join(errs...)
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Halted is closed when the pipeline gives up after the device connection
// is exhausted. The caller still owns Stop.
func (o *Orchestrator) Halted() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.haltCh
}

// halt stops capture and refuses further responses. Only the first call
// has an effect.
func (o *Orchestrator) halt(cause error) {
	if !o.halted.CompareAndSwap(false, true) {
		return
	}

	o.logger.Errorf("Device connection exhausted, halting pipeline: %v", cause)
	if err := o.capture.StopCapture(); err != nil {
		o.logger.Warnf("Failed to stop capture: %v", err)
	}
	o.emitter.Emit(model.NewErrorEvent(model.EventFatal, eventSource,
		"device connection exhausted, pipeline halted", cause))

	o.mu.Lock()
	ch := o.haltCh
	o.mu.Unlock()
	close(ch)
}

func (o *Orchestrator) deviceExhausted(err error) bool {
	return errors.Is(err, policy.ErrConnectionExhausted) || o.device.State() == policy.StateExhausted
}

// detectLoop scores packets one at a time in arrival order.
func (o *Orchestrator) detectLoop(ctx context.Context, halt <-chan struct{}) {
	packets := o.capture.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case <-halt:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			o.handlePacket(ctx, pkt)
		}
	}
}

func (o *Orchestrator) handlePacket(ctx context.Context, pkt model.PacketRecord) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("Recovered from panic while handling packet from %s: %v", pkt.Source, r)
			o.emitter.Emit(model.NewErrorEvent(model.EventError, eventSource, "packet handling failed", fmt.Errorf("panic: %v", r)))
		}
	}()

	o.processed.Add(1)
	if o.recorder != nil {
		o.recorder.RecordPacket(pkt)
	}

	score, ok := o.processor.Process(ctx, pkt)
	if !ok || !score.IsAnomaly || score.Confidence < o.cfg.Threshold {
		return
	}
	o.anomalies.Add(1)

	now := time.Now()
	resp := ResponseLimit
	if score.Confidence > o.cfg.BlockThreshold {
		resp = ResponseBlock
	}

	log := o.logger.WithFields(logrus.Fields{
		"source":     pkt.Source,
		"confidence": score.Confidence,
		"label":      score.Label,
	})

	switch {
	case pkt.Source == "":
		log.Warn("Anomaly without source address, no response possible")
		o.emitAnomaly(pkt, score, ResponseNone, nil, now)
		return
	case o.allowlist.Contains(pkt.Source):
		log.Warn("Anomalous source is allowlisted, skipping response")
		o.emitter.Emit(model.NewEvent(model.EventWarning, eventSource,
			fmt.Sprintf("anomalous source %s is allowlisted, no %s applied", pkt.Source, resp)))
		o.emitAnomaly(pkt, score, ResponseAllowlisted, nil, now)
		return
	}

	if o.halted.Load() {
		o.emitAnomaly(pkt, score, ResponseHalted, nil, now)
		return
	}

	state, claimed := o.enforced.claim(pkt.Source, resp)
	if !claimed {
		log.Debugf("Source already has a response (%s)", state)
		o.emitAnomaly(pkt, score, state, nil, now)
		return
	}

	job := responseJob{packet: pkt, score: score, response: resp, detectedAt: now}
	select {
	case o.queue <- job:
		o.metrics.SetResponseQueueDepth(len(o.queue))
	default:
		o.enforced.release(pkt.Source, resp)
		log.Warn("Response queue full, dropping response")
		o.emitter.Emit(model.NewEvent(model.EventError, eventSource,
			fmt.Sprintf("response queue full, %s for %s dropped", resp, pkt.Source)))
		o.emitAnomaly(pkt, score, ResponseDropped, nil, now)
	}
}

func (o *Orchestrator) responseWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.queue:
			o.metrics.SetResponseQueueDepth(len(o.queue))
			o.respond(job)
		}
	}
}

// respond applies one response. Device stats are best-effort and never
// hold up the policy write.
func (o *Orchestrator) respond(job responseJob) {
	source := job.packet.Source
	if o.halted.Load() {
		o.enforced.release(source, job.response)
		o.emitAnomaly(job.packet, job.score, ResponseHalted, nil, job.detectedAt)
		return
	}

	var stats *model.DeviceStats
	s, err := o.device.GetStats()
	switch {
	case err == nil:
		stats = &s
	case o.deviceExhausted(err):
		o.enforced.release(source, job.response)
		o.emitAnomaly(job.packet, job.score, ResponseHalted, nil, job.detectedAt)
		o.halt(err)
		return
	default:
		o.logger.Debugf("Device stats unavailable for anomaly from %s: %v", source, err)
	}

	var p model.Policy
	if job.response == ResponseBlock {
		p = blockPolicy(source)
	} else {
		p = limitPolicy(source, o.cfg.BandwidthLimitBps)
	}

	resp := job.response
	err = o.device.ApplyPolicy(p)
	if err != nil {
		o.enforced.release(source, job.response)
		o.logger.Errorf("Failed to apply %s for %s: %v", job.response, source, err)
		o.emitter.Emit(model.NewErrorEvent(model.EventError, eventSource,
			fmt.Sprintf("failed to apply %s for %s", job.response, source), err))
		resp = ResponseFailed
	} else {
		o.enforced.confirm(source, job.response)
		o.logger.Infof("Applied %s to %s (confidence %.2f)", job.response, source, job.score.Confidence)
	}

	o.emitAnomaly(job.packet, job.score, resp, stats, job.detectedAt)
	if err != nil && o.deviceExhausted(err) {
		o.halt(err)
	}
}

func (o *Orchestrator) emitAnomaly(pkt model.PacketRecord, score model.ScoreResult, resp Response, stats *model.DeviceStats, at time.Time) {
	o.metrics.RecordAnomaly(score.Label, string(resp))

	event := model.NewEvent(model.EventAnomaly, eventSource,
		fmt.Sprintf("anomaly from %s (%s, confidence %.2f)", pkt.Source, score.Label, score.Confidence))
	event.Packet = &pkt
	event.DeviceStats = stats
	event.Anomaly = &model.Anomaly{
		Packet:      pkt,
		Confidence:  score.Confidence,
		Label:       score.Label,
		Detail:      score.Detail,
		Response:    string(resp),
		DeviceStats: stats,
		DetectedAt:  at,
	}
	o.emitter.Emit(event)
}

func (o *Orchestrator) retrainLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.retrain(ctx)
		}
	}
}

// retrain is the scheduled training run; failures are reported, never returned.
func (o *Orchestrator) retrain(ctx context.Context) {
	if _, err := o.detector.Train(ctx, o.cfg.Epochs); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Warnf("Scheduled retraining failed: %v", err)
		o.emitter.Emit(model.NewErrorEvent(model.EventError, eventSource, "scheduled retraining failed", err))
	}
}

// TriggerTraining runs an on-demand training round.
func (o *Orchestrator) TriggerTraining(ctx context.Context) (*model.TrainingResult, error) {
	return o.detector.Train(ctx, o.cfg.Epochs)
}

// ApplyPolicy applies an operator policy through the device manager.
func (o *Orchestrator) ApplyPolicy(p model.Policy) error {
	return o.device.ApplyPolicy(p)
}

func (o *Orchestrator) Policies() []model.Policy {
	return o.device.Policies()
}

// GetStatus gathers device, model and pipeline state. Unreachable
// dependencies are reported in the status, not as an error.
func (o *Orchestrator) GetStatus(ctx context.Context) Status {
	o.mu.Lock()
	st := Status{
		Running:   o.running,
		Interface: o.cfg.Interface,
	}
	if o.running {
		started := o.startedAt
		st.StartedAt = &started
	}
	o.mu.Unlock()

	st.CaptureActive = o.capture.IsActive()
	st.DeviceState = o.device.State()
	if stats, err := o.device.GetStats(); err == nil {
		st.DeviceStats = &stats
	} else {
		st.DeviceError = err.Error()
	}
	if ms, err := o.detector.GetModelStats(ctx); err == nil {
		st.Model = &ms
	} else {
		st.ModelError = err.Error()
		if ms.LastTrainedLocal != nil {
			st.Model = &ms
		}
	}

	st.Policies = o.device.Policies()
	st.Enforced = o.enforced.snapshot()
	st.PacketsProcessed = o.processed.Load()
	st.AnomaliesDetected = o.anomalies.Load()
	st.ResponseQueue = len(o.queue)
	st.Halted = o.halted.Load()
	return st
}
