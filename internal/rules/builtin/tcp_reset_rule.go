package builtin

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"netguard/internal/model"
	"netguard/internal/rules"

	"github.com/sirupsen/logrus"
)

// TCPResetRule detects TCP reset surges
type TCPResetRule struct {
	name      string
	enabled   bool
	severity  string
	threshold int // resets per window
	window    time.Duration
	windows   *windows
	logger    *logrus.Logger
	mu        sync.Mutex
}

// NewTCPResetRule creates a new TCP reset rule
func NewTCPResetRule(enabled bool, severity string, threshold int, logger *logrus.Logger) *TCPResetRule {
	if threshold <= 0 {
		threshold = 10
	}
	window := time.Minute
	return &TCPResetRule{
		name:      "tcp_reset_surge",
		enabled:   enabled,
		severity:  severity,
		threshold: threshold,
		window:    window,
		windows:   newWindows(window),
		logger:    logger,
	}
}

// Name returns the rule name
func (r *TCPResetRule) Name() string {
	return r.name
}

// IsEnabled returns whether the rule is enabled
func (r *TCPResetRule) IsEnabled() bool {
	return r.enabled
}

// Evaluate counts RST segments per source
func (r *TCPResetRule) Evaluate(pkt model.PacketRecord) *model.ScoreResult {
	if !r.enabled || pkt.Source == "" || !strings.Contains(pkt.Flags, "R") {
		return nil
	}

	r.mu.Lock()
	sw := r.windows.observe(pkt.Source, packetTime(pkt))
	count := sw.count
	r.mu.Unlock()

	if count <= r.threshold {
		return nil
	}
	if count == r.threshold+1 {
		r.logger.Warnf("[TCP Reset] Source %s sent %d resets in %v", pkt.Source, count, r.window)
	}

	return &model.ScoreResult{
		IsAnomaly:  true,
		Confidence: rules.SeverityConfidence(r.severity),
		Label:      r.name,
		Detail:     fmt.Sprintf("%d TCP resets from %s within %v (threshold %d)", count, pkt.Source, r.window, r.threshold),
	}
}
