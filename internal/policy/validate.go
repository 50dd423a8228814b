package policy

import (
	"fmt"
	"net"
	"strings"

	"netguard/internal/model"
)

// Validate rejects policies the device tables cannot represent: unknown
// kinds, actions or protocols, unparseable addresses and out-of-range ports.
func Validate(p model.Policy) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("policy id is required")
	}
	switch p.Kind {
	case model.PolicyKindRateLimit, model.PolicyKindFirewall, model.PolicyKindBandwidth:
	default:
		return fmt.Errorf("policy %s: unknown kind %q", p.ID, p.Kind)
	}

	for i, raw := range p.Rules {
		r := raw.Normalize()
		if ActionCode(r.Action) == 0 {
			return fmt.Errorf("policy %s rule %d: unknown action %q", p.ID, i, raw.Action)
		}
		if r.Protocol != "" && ProtocolNumber(r.Protocol) == 0 {
			return fmt.Errorf("policy %s rule %d: unknown protocol %q", p.ID, i, raw.Protocol)
		}
		if r.Port != nil && (*r.Port < 0 || *r.Port > 65535) {
			return fmt.Errorf("policy %s rule %d: port %d out of range", p.ID, i, *r.Port)
		}
		if r.Limit != nil && *r.Limit < 0 {
			return fmt.Errorf("policy %s rule %d: negative limit", p.ID, i)
		}
		for _, addr := range []string{r.Source, r.Destination} {
			if addr != "" && !validAddress(addr) {
				return fmt.Errorf("policy %s rule %d: invalid address %q", p.ID, i, addr)
			}
		}
	}
	return nil
}

func validAddress(addr string) bool {
	if strings.Contains(addr, "/") {
		_, _, err := net.ParseCIDR(addr)
		return err == nil
	}
	return net.ParseIP(addr) != nil
}
