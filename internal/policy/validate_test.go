package policy

import (
	"testing"

	"netguard/internal/model"
)

func TestValidate(t *testing.T) {
	base := func(rules ...model.Rule) model.Policy {
		return model.Policy{ID: "p", Kind: model.PolicyKindFirewall, Rules: rules}
	}

	tests := []struct {
		name    string
		policy  model.Policy
		wantErr bool
	}{
		{"valid", base(model.Rule{Source: "10.0.0.0/8", Protocol: "udp", Port: intPtr(53), Action: "Deny"}), false},
		{"no rules", base(), false},
		{"missing id", model.Policy{Kind: model.PolicyKindFirewall}, true},
		{"unknown kind", model.Policy{ID: "p", Kind: "qos"}, true},
		{"unknown action", base(model.Rule{Action: "drop"}), true},
		{"unknown protocol", base(model.Rule{Protocol: "GRE", Action: model.ActionDeny}), true},
		{"bad port", base(model.Rule{Port: intPtr(70000), Action: model.ActionDeny}), true},
		{"bad address", base(model.Rule{Destination: "example.com", Action: model.ActionAllow}), true},
		{"negative limit", base(model.Rule{Action: model.ActionLimit, Limit: intPtr(-1)}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.policy)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
