package model

import "strings"

// PolicyKind classifies what a policy enforces on the device
type PolicyKind string

const (
	PolicyKindRateLimit PolicyKind = "rate-limit"
	PolicyKindFirewall  PolicyKind = "firewall"
	PolicyKindBandwidth PolicyKind = "bandwidth"
)

// Action is the verdict a rule applies to matching traffic
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionLimit Action = "limit"
)

// Policy is an operator-defined set of rules, keyed by ID.
type Policy struct {
	ID      string     `yaml:"id" json:"id"`
	Name    string     `yaml:"name" json:"name"`
	Kind    PolicyKind `yaml:"kind" json:"kind"`
	Rules   []Rule     `yaml:"rules" json:"rules"`
	Enabled bool       `yaml:"enabled" json:"enabled"`
}

// Rule matches traffic by optional address, protocol and port and applies an action.
// Limit is only meaningful for ActionLimit; for bandwidth policies it is in bits per second.
type Rule struct {
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	Destination string `yaml:"destination,omitempty" json:"destination,omitempty"`
	Protocol    string `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Port        *int   `yaml:"port,omitempty" json:"port,omitempty"`
	Action      Action `yaml:"action" json:"action"`
	Limit       *int   `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Normalize upper-cases the protocol and lower-cases the action so lookups are stable.
func (r Rule) Normalize() Rule {
	r.Protocol = strings.ToUpper(strings.TrimSpace(r.Protocol))
	r.Action = Action(strings.ToLower(strings.TrimSpace(string(r.Action))))
	return r
}

// Clone returns a deep copy so stored policies cannot be mutated through callers.
func (p Policy) Clone() Policy {
	out := p
	out.Rules = make([]Rule, len(p.Rules))
	for i, r := range p.Rules {
		if r.Port != nil {
			port := *r.Port
			r.Port = &port
		}
		if r.Limit != nil {
			limit := *r.Limit
			r.Limit = &limit
		}
		out.Rules[i] = r
	}
	return out
}
