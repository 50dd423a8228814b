// Package features encodes packet records as fixed-length vectors for the
// scoring service.
package features

import (
	"math"
	"net"
	"strings"

	"netguard/internal/model"
)

// Version identifies the layout below. Bump it whenever Protocols or the
// vector layout changes so scorer inputs stay compatible.
const Version = 1

// Protocols is the one-hot vocabulary, in vector order.
var Protocols = []string{"TCP", "UDP", "ICMP", "ARP", "IGMP", "SCTP"}

// Length of every vector produced by Extract.
var Length = len(Protocols) + 4

const (
	// MaxPacketLength is the divisor for the size ratio.
	MaxPacketLength = 65535.0
	hoursPerDay     = 24.0
	octetMax        = 255.0
)

// Layout:
//
//	[0]                 length / MaxPacketLength, clamped to [0,1]
//	[1 .. len(Protocols)]  one-hot protocol
//	[len+1]             hour of day / 24
//	[len+2]             last octet of source address / 255
//	[len+3]             last octet of destination address / 255
//
// Extract is pure and safe for concurrent use.
func Extract(p model.PacketRecord) model.FeatureVector {
	v := make(model.FeatureVector, Length)

	v[0] = clamp(float64(p.Length) / MaxPacketLength)

	proto := strings.ToUpper(p.Protocol)
	for i, name := range Protocols {
		if proto == name {
			v[1+i] = 1
			break
		}
	}

	n := len(Protocols)
	v[n+1] = float64(p.CapturedAt.Hour()) / hoursPerDay
	v[n+2] = addressScalar(p.Source)
	v[n+3] = addressScalar(p.Destination)

	return v
}

func addressScalar(addr string) float64 {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0
	}
	if v4 := ip.To4(); v4 != nil {
		return float64(v4[3]) / octetMax
	}
	return float64(ip[len(ip)-1]) / octetMax
}

func clamp(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
