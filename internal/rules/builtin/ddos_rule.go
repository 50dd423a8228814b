package builtin

import (
	"fmt"
	"sync"
	"time"

	"netguard/internal/model"
	"netguard/internal/rules"

	"github.com/sirupsen/logrus"
)

// DDoSRule flags sources sending more packets than threshold within one window.
type DDoSRule struct {
	name      string
	enabled   bool
	severity  string
	threshold int
	window    time.Duration
	windows   *windows
	logger    *logrus.Logger
	mu        sync.Mutex
}

func NewDDoSRule(enabled bool, severity string, threshold int, logger *logrus.Logger) *DDoSRule {
	if threshold <= 0 {
		threshold = 1000
	}
	window := 10 * time.Second
	return &DDoSRule{
		name:      "ddos",
		enabled:   enabled,
		severity:  severity,
		threshold: threshold,
		window:    window,
		windows:   newWindows(window),
		logger:    logger,
	}
}

func (r *DDoSRule) Name() string {
	return r.name
}

func (r *DDoSRule) IsEnabled() bool {
	return r.enabled
}

func (r *DDoSRule) Evaluate(pkt model.PacketRecord) *model.ScoreResult {
	if !r.enabled || pkt.Source == "" {
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
		r.logger.Warnf("[DDoS] Source %s exceeded %d packets in %v", pkt.Source, r.threshold, r.window)
	}

	return &model.ScoreResult{
		IsAnomaly:  true,
		Confidence: rules.SeverityConfidence(r.severity),
		Label:      r.name,
		Detail:     fmt.Sprintf("%d packets from %s within %v (threshold %d)", count, pkt.Source, r.window, r.threshold),
	}
}
