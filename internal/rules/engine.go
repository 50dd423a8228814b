package rules

import (
	"sync"

	"netguard/internal/client"
	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

// Rule inspects packets one at a time and keeps whatever per-source state
// it needs. Evaluate returns nil when the packet does not trip the rule.
type Rule interface {
	Name() string
	IsEnabled() bool
	Evaluate(pkt model.PacketRecord) *model.ScoreResult
}

// Engine runs local detection rules alongside the scoring service.
type Engine struct {
	rules   []Rule
	metrics *client.PrometheusMetrics
	logger  *logrus.Logger
	mu      sync.RWMutex
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		rules:  make([]Rule, 0),
		logger: logger,
	}
}

func (e *Engine) SetMetrics(m *client.PrometheusMetrics) {
	e.metrics = m
}

func (e *Engine) RegisterRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	e.logger.Infof("Registered rule: %s", rule.Name())
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate runs every enabled rule and returns the most confident hit.
func (e *Engine) Evaluate(pkt model.PacketRecord) (model.ScoreResult, bool) {
	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var best *model.ScoreResult
	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}
		hit := rule.Evaluate(pkt)
		if hit == nil {
			continue
		}
		e.metrics.RecordRuleHit(rule.Name())
		if best == nil || hit.Confidence > best.Confidence {
			best = hit
		}
	}

	if best == nil {
		return model.ScoreResult{}, false
	}
	return *best, true
}
