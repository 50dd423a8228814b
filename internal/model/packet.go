package model

import (
	"time"
)

// PacketRecord represents one observed network packet parsed from capture output.
// Optional fields are nil (or empty) when the capture line did not carry them.
type PacketRecord struct {
	CapturedAt  time.Time `json:"captured_at"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Protocol    string    `json:"protocol,omitempty"`
	Length      int       `json:"length"`
	Ports       *PortPair `json:"ports,omitempty"`
	Flags       string    `json:"flags,omitempty"`
	TTL         *int      `json:"ttl,omitempty"`
	Window      *int      `json:"window,omitempty"`
	Checksum    *uint32   `json:"checksum,omitempty"`
}

// PortPair holds the transport ports of a packet
type PortPair struct {
	Source      int `json:"source"`
	Destination int `json:"destination"`
}

// DestinationPort returns the destination port or 0 when no port pair was parsed.
func (p *PacketRecord) DestinationPort() int {
	if p.Ports == nil {
		return 0
	}
	return p.Ports.Destination
}

// SourcePort returns the source port or 0 when no port pair was parsed.
func (p *PacketRecord) SourcePort() int {
	if p.Ports == nil {
		return 0
	}
	return p.Ports.Source
}

// FeatureVector is the fixed-length numeric encoding of a PacketRecord.
type FeatureVector []float64

// ScoreResult is the classification returned for one feature vector
type ScoreResult struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
	Detail     string  `json:"detail,omitempty"`
}

// DeviceStats are the counters read from the managed device.
type DeviceStats struct {
	CPU          float64 `json:"cpu"`
	Memory       float64 `json:"memory"`
	BandwidthIn  float64 `json:"bandwidth_in"`
	BandwidthOut float64 `json:"bandwidth_out"`
	Connections  float64 `json:"connections"`
	Errors       float64 `json:"errors"`
}

// ModelStats is a snapshot of the remote scoring model merged with local state.
type ModelStats struct {
	ModelInitialized bool       `json:"model_initialized"`
	LastTrainingTime *time.Time `json:"last_training_time,omitempty"`
	TrainingDataSize int        `json:"training_data_size"`
	QueueSize        int        `json:"queue_size"`
	LastTrainedLocal *time.Time `json:"last_trained_local,omitempty"`
}
