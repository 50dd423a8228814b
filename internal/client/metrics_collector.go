package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics holds every pipeline metric. All Record/Set methods are
// safe to call on a nil receiver so components can run without metrics.
type PrometheusMetrics struct {
	// Capture metrics
	CaptureLines    *prometheus.CounterVec
	CaptureWarnings prometheus.Counter
	CaptureActive   prometheus.Gauge

	// Scoring metrics
	ScoreRequests *prometheus.CounterVec
	ScoreLatency  prometheus.Histogram
	TrainingRuns  *prometheus.CounterVec

	// Rule metrics
	RuleHits *prometheus.CounterVec

	// Response metrics
	Anomalies          *prometheus.CounterVec
	ResponseQueueDepth prometheus.Gauge

	// Device metrics
	DeviceConnected   prometheus.Gauge
	DeviceConnectFail prometheus.Counter
	PolicyWrites      *prometheus.CounterVec
	PoliciesApplied   *prometheus.CounterVec

	// Event metrics
	EventsDropped prometheus.Counter
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		CaptureLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_capture_lines_total",
				Help: "Capture output lines by parse result",
			},
			[]string{"result"},
		),

		CaptureWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netguard_capture_warnings_total",
				Help: "Lines written by the capture tool to stderr",
			},
		),

		CaptureActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netguard_capture_active",
				Help: "1 while the capture process is running",
			},
		),

		ScoreRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_score_requests_total",
				Help: "Scoring calls by result",
			},
			[]string{"result"},
		),

		ScoreLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netguard_score_latency_seconds",
				Help:    "Latency of scoring service predict calls",
				Buckets: prometheus.DefBuckets,
			},
		),

		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_training_runs_total",
				Help: "Retraining runs by result",
			},
			[]string{"result"},
		),

		RuleHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_rule_hits_total",
				Help: "Packets flagged by local detection rules",
			},
			[]string{"rule"},
		),

		Anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_anomalies_total",
				Help: "Anomalies above threshold by label and response",
			},
			[]string{"label", "response"},
		),

		ResponseQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netguard_response_queue_depth",
				Help: "Anomaly responses waiting for a worker",
			},
		),

		DeviceConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netguard_device_connected",
				Help: "1 while the device session is connected",
			},
		),

		DeviceConnectFail: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netguard_device_connect_failures_total",
				Help: "Failed device connection or verification attempts",
			},
		),

		PolicyWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_policy_writes_total",
				Help: "Device SET operations by result",
			},
			[]string{"result"},
		),

		PoliciesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netguard_policies_applied_total",
				Help: "applyPolicy calls by policy kind and result",
			},
			[]string{"kind", "result"},
		),

		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netguard_events_dropped_total",
				Help: "Events dropped because the event channel was full",
			},
		),
	}
}

// Collectors returns every metric for registration.
func (m *PrometheusMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CaptureLines,
		m.CaptureWarnings,
		m.CaptureActive,
		m.ScoreRequests,
		m.ScoreLatency,
		m.TrainingRuns,
		m.RuleHits,
		m.Anomalies,
		m.ResponseQueueDepth,
		m.DeviceConnected,
		m.DeviceConnectFail,
		m.PolicyWrites,
		m.PoliciesApplied,
		m.EventsDropped,
	}
}

func (m *PrometheusMetrics) RecordCaptureLine(parsed bool) {
	if m == nil {
		return
	}
	result := "skipped"
	if parsed {
		result = "parsed"
	}
	m.CaptureLines.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordCaptureWarning() {
	if m == nil {
		return
	}
	m.CaptureWarnings.Inc()
}

func (m *PrometheusMetrics) SetCaptureActive(active bool) {
	if m == nil {
		return
	}
	m.CaptureActive.Set(boolToFloat(active))
}

func (m *PrometheusMetrics) RecordScore(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ScoreRequests.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.ScoreLatency.Observe(elapsed.Seconds())
	}
}

func (m *PrometheusMetrics) RecordTraining(result string) {
	if m == nil {
		return
	}
	m.TrainingRuns.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordRuleHit(rule string) {
	if m == nil {
		return
	}
	m.RuleHits.WithLabelValues(rule).Inc()
}

func (m *PrometheusMetrics) RecordAnomaly(label, response string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(label, response).Inc()
}

func (m *PrometheusMetrics) SetResponseQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.ResponseQueueDepth.Set(float64(depth))
}

func (m *PrometheusMetrics) SetDeviceConnected(connected bool) {
	if m == nil {
		return
	}
	m.DeviceConnected.Set(boolToFloat(connected))
}

func (m *PrometheusMetrics) RecordDeviceConnectFailure() {
	if m == nil {
		return
	}
	m.DeviceConnectFail.Inc()
}

func (m *PrometheusMetrics) RecordPolicyWrite(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.PolicyWrites.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordPolicyApplied(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.PoliciesApplied.WithLabelValues(kind, result).Inc()
}

func (m *PrometheusMetrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
