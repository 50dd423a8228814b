package pipeline

import (
	"fmt"
	"net"
	"strings"

	"github.com/yl2chen/cidranger"
)

// Allowlist holds source networks that automated responses must never touch.
type Allowlist struct {
	ranger cidranger.Ranger
	size   int
}

// NewAllowlist accepts CIDR blocks and bare addresses.
func NewAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{ranger: cidranger.NewPCTrieRanger()}

	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		var ipNet *net.IPNet
		if strings.Contains(raw, "/") {
			_, n, err := net.ParseCIDR(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist entry %q: %w", raw, err)
			}
			ipNet = n
		} else {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid allowlist entry %q", raw)
			}
			suffix := "/128"
			if ip.To4() != nil {
				suffix = "/32"
			}
			_, ipNet, _ = net.ParseCIDR(raw + suffix)
		}

		if err := a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipNet)); err != nil {
			return nil, fmt.Errorf("failed to add allowlist entry %q: %w", raw, err)
		}
		a.size++
	}

	return a, nil
}

// Contains reports whether addr falls inside an allowlisted network.
// Unparseable addresses are never allowlisted.
func (a *Allowlist) Contains(addr string) bool {
	if a == nil || a.size == 0 {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	ok, err := a.ranger.Contains(ip)
	return err == nil && ok
}

func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return a.size
}
