package pipeline

import (
	"fmt"
	"sync"
	"time"

	"netguard/internal/model"
)

// Response names what the pipeline did about an anomaly.
type Response string

const (
	ResponseNone        Response = "none"
	ResponseLimit       Response = "limit"
	ResponseBlock       Response = "block"
	ResponseAllowlisted Response = "allowlisted"
	ResponseDuplicate   Response = "already-applied"
	ResponsePending     Response = "pending"
	ResponseDropped     Response = "dropped"
	ResponseFailed      Response = "failed"
	ResponseHalted      Response = "halted"
)

// rank orders enforcement strength so a limited source can escalate to a block.
func (r Response) rank() int {
	switch r {
	case ResponseLimit:
		return 1
	case ResponseBlock:
		return 2
	default:
		return 0
	}
}

type responseJob struct {
	packet     model.PacketRecord
	score      model.ScoreResult
	response   Response
	detectedAt time.Time
}

// enforcement tracks, per source address, the strongest response confirmed
// by the device and the one still waiting in the queue, so each source is
// acted on once per tier.
type enforcement struct {
	mu      sync.Mutex
	applied map[string]Response
	pending map[string]Response
}

func newEnforcement() *enforcement {
	return &enforcement{
		applied: make(map[string]Response),
		pending: make(map[string]Response),
	}
}

// claim reserves resp for source. It fails when an equal or stronger
// response is applied or in flight, returning ResponsePending or
// ResponseDuplicate to say which.
func (e *enforcement) claim(source string, resp Response) (Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending[source].rank() >= resp.rank() {
		return ResponsePending, false
	}
	if e.applied[source].rank() >= resp.rank() {
		return ResponseDuplicate, false
	}
	e.pending[source] = resp
	return resp, true
}

// confirm records a device write that went through.
func (e *enforcement) confirm(source string, resp Response) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.applied[source].rank() < resp.rank() {
		e.applied[source] = resp
	}
	if e.pending[source] == resp {
		delete(e.pending, source)
	}
}

// release undoes a claim whose device write did not go through.
func (e *enforcement) release(source string, resp Response) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending[source] == resp {
		delete(e.pending, source)
	}
}

// snapshot returns the confirmed responses only.
func (e *enforcement) snapshot() map[string]Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Response, len(e.applied))
	for k, v := range e.applied {
		out[k] = v
	}
	return out
}

// BlockPolicyID and LimitPolicyID name the automatic policies per source,
// so repeated responses upsert instead of piling up.
func BlockPolicyID(source string) string { return "auto-block-" + source }
func LimitPolicyID(source string) string { return "auto-limit-" + source }

func blockPolicy(source string) model.Policy {
	return model.Policy{
		ID:   BlockPolicyID(source),
		Name: fmt.Sprintf("Automatic block for %s", source),
		Kind: model.PolicyKindFirewall,
		Rules: []model.Rule{
			{Source: source, Action: model.ActionDeny},
		},
		Enabled: true,
	}
}

func limitPolicy(source string, bps int) model.Policy {
	limit := bps
	return model.Policy{
		ID:   LimitPolicyID(source),
		Name: fmt.Sprintf("Automatic bandwidth limit for %s", source),
		Kind: model.PolicyKindBandwidth,
		Rules: []model.Rule{
			{Source: source, Action: model.ActionLimit, Limit: &limit},
		},
		Enabled: true,
	}
}
