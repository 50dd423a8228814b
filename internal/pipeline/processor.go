package pipeline

import (
	"context"

	"netguard/internal/features"
	"netguard/internal/model"
	"netguard/internal/scorer"

	"github.com/sirupsen/logrus"
)

// RuleEvaluator runs local detection rules over a packet.
type RuleEvaluator interface {
	Evaluate(pkt model.PacketRecord) (model.ScoreResult, bool)
}

// Processor scores one packet: extract features, ask the scoring service,
// and fall back to the local heuristic when the service cannot answer.
// Local rule hits override the model when they are more confident.
type Processor struct {
	detector          Detector
	rules             RuleEvaluator
	heuristicFallback bool
	learnFromFallback bool
	emitter           model.Emitter
	logger            *logrus.Logger
}

func NewProcessor(detector Detector, heuristicFallback, learnFromFallback bool, emitter model.Emitter, logger *logrus.Logger) *Processor {
	if emitter == nil {
		emitter = model.NopEmitter{}
	}
	return &Processor{
		detector:          detector,
		heuristicFallback: heuristicFallback,
		learnFromFallback: learnFromFallback,
		emitter:           emitter,
		logger:            logger,
	}
}

func (p *Processor) SetRules(r RuleEvaluator) {
	p.rules = r
}

// Process returns ok=false when no classification is available for the packet.
func (p *Processor) Process(ctx context.Context, pkt model.PacketRecord) (model.ScoreResult, bool) {
	result, ok := p.score(ctx, pkt)
	if p.rules == nil || ctx.Err() != nil {
		return result, ok
	}

	hit, fired := p.rules.Evaluate(pkt)
	if fired && (!ok || !result.IsAnomaly || hit.Confidence > result.Confidence) {
		return hit, true
	}
	return result, ok
}

func (p *Processor) score(ctx context.Context, pkt model.PacketRecord) (model.ScoreResult, bool) {
	vec := features.Extract(pkt)

	result, err := p.detector.DetectAnomaly(ctx, vec)
	if err == nil {
		return result, true
	}
	if ctx.Err() != nil {
		return model.ScoreResult{}, false
	}

	p.logger.WithField("source", pkt.Source).Debugf("Scoring failed: %v", err)
	event := model.NewErrorEvent(model.EventError, eventSource, "packet scoring failed", err)
	event.Packet = &pkt
	p.emitter.Emit(event)

	if !p.heuristicFallback {
		return model.ScoreResult{}, false
	}

	result = scorer.Heuristic(pkt)
	if p.learnFromFallback {
		p.detector.AddTrainingExample(pkt, result.IsAnomaly)
	}
	return result, true
}
