package builtin

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"netguard/internal/model"
	"netguard/internal/rules"

	"github.com/sirupsen/logrus"
)

// PortScanRule flags sources probing more distinct destination ports than
// threshold within one window.
type PortScanRule struct {
	name      string
	enabled   bool
	severity  string
	threshold int
	window    time.Duration
	windows   *windows
	logger    *logrus.Logger
	mu        sync.Mutex
}

func NewPortScanRule(enabled bool, severity string, threshold int, logger *logrus.Logger) *PortScanRule {
	if threshold <= 0 {
		threshold = 10
	}
	window := 10 * time.Second
	return &PortScanRule{
		name:      "port_scan",
		enabled:   enabled,
		severity:  severity,
		threshold: threshold,
		window:    window,
		windows:   newWindows(window),
		logger:    logger,
	}
}

func (r *PortScanRule) Name() string {
	return r.name
}

func (r *PortScanRule) IsEnabled() bool {
	return r.enabled
}

func (r *PortScanRule) Evaluate(pkt model.PacketRecord) *model.ScoreResult {
	if !r.enabled || pkt.Source == "" || pkt.Ports == nil {
		return nil
	}

	r.mu.Lock()
	sw := r.windows.observe(pkt.Source, packetTime(pkt))
	before := len(sw.keys)
	sw.keys[strconv.Itoa(pkt.DestinationPort())] = struct{}{}
	distinct := len(sw.keys)
	r.mu.Unlock()

	if distinct <= r.threshold {
		return nil
	}
	if before == r.threshold && distinct == r.threshold+1 {
		r.logger.Warnf("[Port Scan] Source %s touched %d distinct ports in %v", pkt.Source, distinct, r.window)
	}

	return &model.ScoreResult{
		IsAnomaly:  true,
		Confidence: rules.SeverityConfidence(r.severity),
		Label:      r.name,
		Detail:     fmt.Sprintf("%d distinct destination ports from %s within %v (threshold %d)", distinct, pkt.Source, r.window, r.threshold),
	}
}
