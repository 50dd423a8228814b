package pipeline

import (
	"context"
	"errors"
	"testing"

	"netguard/internal/model"
)

type fixedRules struct {
	hit   model.ScoreResult
	fired bool
}

func (r fixedRules) Evaluate(model.PacketRecord) (model.ScoreResult, bool) {
	return r.hit, r.fired
}

func TestProcessorRuleOverrides(t *testing.T) {
	portScan := model.ScoreResult{IsAnomaly: true, Confidence: 0.9, Label: "port_scan"}
	unavailable := func(model.FeatureVector) (model.ScoreResult, error) {
		return model.ScoreResult{}, errors.New("connection refused")
	}

	tests := []struct {
		name      string
		score     func(model.FeatureVector) (model.ScoreResult, error)
		rules     RuleEvaluator
		wantOK    bool
		wantLabel string
	}{
		{"model only", constantScore(true, 0.95), nil, true, "severe"},
		{"rule beats normal verdict", constantScore(false, 0.99), fixedRules{portScan, true}, true, "port_scan"},
		{"rule beats weaker anomaly", constantScore(true, 0.85), fixedRules{portScan, true}, true, "port_scan"},
		{"stronger model wins", constantScore(true, 0.95), fixedRules{portScan, true}, true, "severe"},
		{"rule silent", constantScore(false, 0.2), fixedRules{}, true, ""},
		{"rule covers scoring outage", unavailable, fixedRules{portScan, true}, true, "port_scan"},
		{"scoring outage without rules", unavailable, nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(&fakeDetector{score: tt.score}, false, false, nil, quietLogger())
			if tt.rules != nil {
				p.SetRules(tt.rules)
			}

			got, ok := p.Process(context.Background(), packetFrom("192.0.2.10"))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && tt.wantLabel != "" && got.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", got.Label, tt.wantLabel)
			}
			if tt.name == "rule silent" && got.IsAnomaly {
				t.Errorf("result = %+v, want normal", got)
			}
		})
	}
}
