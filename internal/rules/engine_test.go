package rules

import (
	"io"
	"testing"

	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

type stubRule struct {
	name    string
	enabled bool
	hit     *model.ScoreResult
	calls   int
}

func (s *stubRule) Name() string    { return s.name }
func (s *stubRule) IsEnabled() bool { return s.enabled }
func (s *stubRule) Evaluate(model.PacketRecord) *model.ScoreResult {
	s.calls++
	return s.hit
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestEngineReturnsMostConfidentHit(t *testing.T) {
	engine := NewEngine(testLogger())
	engine.RegisterRule(&stubRule{name: "quiet", enabled: true})
	engine.RegisterRule(&stubRule{name: "medium", enabled: true, hit: &model.ScoreResult{IsAnomaly: true, Confidence: 0.85, Label: "medium"}})
	engine.RegisterRule(&stubRule{name: "critical", enabled: true, hit: &model.ScoreResult{IsAnomaly: true, Confidence: 0.95, Label: "critical"}})

	got, ok := engine.Evaluate(model.PacketRecord{Source: "10.0.0.1"})
	if !ok {
		t.Fatal("Evaluate() found no hit")
	}
	if got.Label != "critical" || got.Confidence != 0.95 {
		t.Errorf("Evaluate() = %+v, want the critical hit", got)
	}
}

func TestEngineSkipsDisabledRules(t *testing.T) {
	disabled := &stubRule{name: "off", hit: &model.ScoreResult{IsAnomaly: true, Confidence: 1}}
	engine := NewEngine(testLogger())
	engine.RegisterRule(disabled)

	if _, ok := engine.Evaluate(model.PacketRecord{}); ok {
		t.Error("disabled rule produced a hit")
	}
	if disabled.calls != 0 {
		t.Errorf("disabled rule evaluated %d times", disabled.calls)
	}
	if engine.Len() != 1 {
		t.Errorf("Len() = %d", engine.Len())
	}
}

func TestSeverityConfidence(t *testing.T) {
	tests := []struct {
		severity string
		want     float64
	}{
		{"CRITICAL", 0.95},
		{"high", 0.9},
		{"MEDIUM", 0.85},
		{"LOW", 0.8},
		{"", 0.8},
	}
	for _, tt := range tests {
		if got := SeverityConfidence(tt.severity); got != tt.want {
			t.Errorf("SeverityConfidence(%q) = %v, want %v", tt.severity, got, tt.want)
		}
	}
}
