package builtin

import (
	"fmt"
	"sync"
	"time"

	"netguard/internal/model"
	"netguard/internal/rules"

	"github.com/sirupsen/logrus"
)

// OutboundRule flags sources contacting more distinct destination addresses
// than threshold within one window, the shape of a host sweep or worm.
type OutboundRule struct {
	name      string
	enabled   bool
	severity  string
	threshold int
	window    time.Duration
	windows   *windows
	logger    *logrus.Logger
	mu        sync.Mutex
}

func NewOutboundRule(enabled bool, severity string, threshold int, logger *logrus.Logger) *OutboundRule {
	if threshold <= 0 {
		threshold = 50
	}
	window := time.Minute
	return &OutboundRule{
		name:      "suspicious_outbound",
		enabled:   enabled,
		severity:  severity,
		threshold: threshold,
		window:    window,
		windows:   newWindows(window),
		logger:    logger,
	}
}

func (r *OutboundRule) Name() string {
	return r.name
}

func (r *OutboundRule) IsEnabled() bool {
	return r.enabled
}

func (r *OutboundRule) Evaluate(pkt model.PacketRecord) *model.ScoreResult {
	if !r.enabled || pkt.Source == "" || pkt.Destination == "" {
		return nil
	}

	r.mu.Lock()
	sw := r.windows.observe(pkt.Source, packetTime(pkt))
	before := len(sw.keys)
	sw.keys[pkt.Destination] = struct{}{}
	distinct := len(sw.keys)
	r.mu.Unlock()

	if distinct <= r.threshold {
		return nil
	}
	if before == r.threshold && distinct == r.threshold+1 {
		r.logger.Warnf("[Outbound] Source %s contacted %d destinations in %v", pkt.Source, distinct, r.window)
	}

	return &model.ScoreResult{
		IsAnomaly:  true,
		Confidence: rules.SeverityConfidence(r.severity),
		Label:      r.name,
		Detail:     fmt.Sprintf("%d distinct destinations from %s within %v (threshold %d)", distinct, pkt.Source, r.window, r.threshold),
	}
}
