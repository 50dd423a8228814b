package model

import "time"

// EventType names a lifecycle, error or detection event
type EventType string

const (
	EventPipelineStarted     EventType = "pipeline_started"
	EventPipelineStopped     EventType = "pipeline_stopped"
	EventCaptureStarted      EventType = "capture_started"
	EventCaptureStopped      EventType = "capture_stopped"
	EventWarning             EventType = "warning"
	EventError               EventType = "error"
	EventFatal               EventType = "fatal"
	EventAnomaly             EventType = "anomaly"
	EventPolicyApplied       EventType = "policy_applied"
	EventDeviceConnected     EventType = "device_connected"
	EventDeviceDisconnected  EventType = "device_disconnected"
	EventConnectionExhausted EventType = "connection_exhausted"
	EventTrainingComplete    EventType = "training_complete"
)

// Event is what components report to external observers.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	Source      string          `json:"source"`
	Timestamp   time.Time       `json:"timestamp"`
	Message     string          `json:"message,omitempty"`
	Error       string          `json:"error,omitempty"`
	Packet      *PacketRecord   `json:"packet,omitempty"`
	Anomaly     *Anomaly        `json:"anomaly,omitempty"`
	Policy      *Policy         `json:"policy,omitempty"`
	DeviceStats *DeviceStats    `json:"device_stats,omitempty"`
	Training    *TrainingResult `json:"training,omitempty"`
}

// Anomaly describes a packet classified above the response threshold.
type Anomaly struct {
	Packet      PacketRecord `json:"packet"`
	Confidence  float64      `json:"confidence"`
	Label       string       `json:"label"`
	Detail      string       `json:"detail,omitempty"`
	Response    string       `json:"response"`
	DeviceStats *DeviceStats `json:"device_stats,omitempty"`
	DetectedAt  time.Time    `json:"detected_at"`
}

// TrainingResult carries the server-reported outcome of a retraining run.
type TrainingResult struct {
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	SamplesTrained int       `json:"samples_trained"`
	Epochs         int       `json:"epochs"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Emitter receives events from pipeline components
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(event).
func (f EmitterFunc) Emit(event Event) { f(event) }

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, source, message string) Event {
	return Event{
		Type:      t,
		Source:    source,
		Timestamp: time.Now(),
		Message:   message,
	}
}

// NewErrorEvent builds an event of type t carrying err.
func NewErrorEvent(t EventType, source, message string, err error) Event {
	ev := NewEvent(t, source, message)
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
