package scorer

import (
	"testing"

	"netguard/internal/model"
)

func TestHeuristic(t *testing.T) {
	tests := []struct {
		name  string
		pkt   model.PacketRecord
		want  bool
		conf  float64
		label string
	}{
		{
			name:  "ssh at mtu",
			pkt:   model.PacketRecord{Protocol: "TCP", Length: 1500, Ports: &model.PortPair{Source: 51000, Destination: 22}},
			want:  true,
			conf:  0.9,
			label: LabelSuspicious,
		},
		{
			name:  "rdp",
			pkt:   model.PacketRecord{Protocol: "TCP", Length: 60, Ports: &model.PortPair{Source: 51000, Destination: 3389}},
			want:  true,
			conf:  0.9,
			label: LabelSuspicious,
		},
		{
			name:  "oversized",
			pkt:   model.PacketRecord{Protocol: "UDP", Length: 1501},
			want:  true,
			conf:  0.9,
			label: LabelSuspicious,
		},
		{
			name:  "regular web",
			pkt:   model.PacketRecord{Protocol: "TCP", Length: 1500, Ports: &model.PortPair{Source: 51000, Destination: 443}},
			want:  false,
			conf:  0.1,
			label: LabelNormal,
		},
		{
			name:  "no ports",
			pkt:   model.PacketRecord{Protocol: "ICMP", Length: 64},
			want:  false,
			conf:  0.1,
			label: LabelNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Heuristic(tt.pkt)
			if got.IsAnomaly != tt.want || got.Confidence != tt.conf || got.Label != tt.label {
				t.Errorf("Heuristic() = %+v, want anomaly=%v confidence=%v label=%s", got, tt.want, tt.conf, tt.label)
			}
		})
	}
}
