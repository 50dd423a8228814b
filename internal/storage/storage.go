// Package storage keeps bounded recent history for external observers.
package storage

import (
	"strings"
	"sync"
	"time"

	"netguard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxPackets   = 1000
	DefaultMaxAnomalies = 500
	DefaultMaxEvents    = 1000

	subscriberBuffer = 64
)

// Storage holds the most recent packets, anomalies and events in memory and
// streams new events to subscribers. Slow subscribers miss events rather
// than stall the pipeline.
type Storage struct {
	mu           sync.RWMutex
	packets      []model.PacketRecord
	anomalies    []model.Anomaly
	events       []model.Event
	maxPackets   int
	maxAnomalies int
	maxEvents    int
	totalPackets uint64
	logger       *logrus.Logger

	subsMu sync.RWMutex
	subs   map[*EventSubscriber]bool
}

type EventSubscriber struct {
	ID       string
	Channel  chan model.Event
	Filter   EventFilter
	LastSeen time.Time
}

// EventFilter narrows a subscription; empty fields match everything.
type EventFilter struct {
	Type   model.EventType
	Source string
}

func (f EventFilter) matches(e model.Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	return true
}

type Stats struct {
	PacketsSeen     uint64         `json:"packets_seen"`
	PacketsRetained int            `json:"packets_retained"`
	Anomalies       int            `json:"anomalies"`
	Events          int            `json:"events"`
	Subscribers     int            `json:"subscribers"`
	ByProtocol      map[string]int `json:"by_protocol"`
	ByResponse      map[string]int `json:"by_response"`
}

func NewStorage(maxPackets, maxAnomalies int, logger *logrus.Logger) *Storage {
	if maxPackets <= 0 {
		maxPackets = DefaultMaxPackets
	}
	if maxAnomalies <= 0 {
		maxAnomalies = DefaultMaxAnomalies
	}
	return &Storage{
		packets:      make([]model.PacketRecord, 0),
		anomalies:    make([]model.Anomaly, 0),
		events:       make([]model.Event, 0),
		maxPackets:   maxPackets,
		maxAnomalies: maxAnomalies,
		maxEvents:    DefaultMaxEvents,
		logger:       logger,
		subs:         make(map[*EventSubscriber]bool),
	}
}

// RecordPacket keeps p in the recent packet history.
func (s *Storage) RecordPacket(p model.PacketRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalPackets++
	s.packets = append(s.packets, p)
	if len(s.packets) > s.maxPackets {
		s.packets = s.packets[len(s.packets)-s.maxPackets:]
	}
}

func (s *Storage) Name() string { return "storage" }

// SendEvent stores the event and notifies subscribers, so Storage can sit
// behind the alert dispatcher like any other notifier.
func (s *Storage) SendEvent(event model.Event) error {
	s.AddEvent(event)
	return nil
}

func (s *Storage) AddEvent(event model.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	if event.Type == model.EventAnomaly && event.Anomaly != nil {
		s.anomalies = append(s.anomalies, *event.Anomaly)
		if len(s.anomalies) > s.maxAnomalies {
			s.anomalies = s.anomalies[len(s.anomalies)-s.maxAnomalies:]
		}
	}
	s.mu.Unlock()

	s.notifySubscribers(event)
}

// GetPackets returns up to limit packets, newest first. protocol and
// search (matched against either address) are optional.
func (s *Storage) GetPackets(limit int, protocol, search string) []model.PacketRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.PacketRecord, 0)
	for i := len(s.packets) - 1; i >= 0 && len(result) < limit; i-- {
		p := s.packets[i]
		if protocol != "" && !strings.EqualFold(p.Protocol, protocol) {
			continue
		}
		if search != "" && !strings.Contains(p.Source, search) && !strings.Contains(p.Destination, search) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// GetAnomalies returns up to limit anomalies, newest first.
func (s *Storage) GetAnomalies(limit int, label, source string) []model.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Anomaly, 0)
	for i := len(s.anomalies) - 1; i >= 0 && len(result) < limit; i-- {
		a := s.anomalies[i]
		if label != "" && a.Label != label {
			continue
		}
		if source != "" && a.Packet.Source != source {
			continue
		}
		result = append(result, a)
	}
	return result
}

// GetEvents returns up to limit events, newest first.
func (s *Storage) GetEvents(limit int, filter EventFilter) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.matches(s.events[i]) {
			result = append(result, s.events[i])
		}
	}
	return result
}

func (s *Storage) GetStats() Stats {
	s.mu.RLock()
	stats := Stats{
		PacketsSeen:     s.totalPackets,
		PacketsRetained: len(s.packets),
		Anomalies:       len(s.anomalies),
		Events:          len(s.events),
		ByProtocol:      make(map[string]int),
		ByResponse:      make(map[string]int),
	}
	for i := range s.packets {
		proto := s.packets[i].Protocol
		if proto == "" {
			proto = "unknown"
		}
		stats.ByProtocol[proto]++
	}
	for i := range s.anomalies {
		stats.ByResponse[s.anomalies[i].Response]++
	}
	s.mu.RUnlock()

	s.subsMu.RLock()
	stats.Subscribers = len(s.subs)
	s.subsMu.RUnlock()
	return stats
}

// Subscribe registers a new event subscriber with a buffered channel.
func (s *Storage) Subscribe(filter EventFilter) *EventSubscriber {
	sub := &EventSubscriber{
		ID:       uuid.NewString(),
		Channel:  make(chan model.Event, subscriberBuffer),
		Filter:   filter,
		LastSeen: time.Now(),
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[sub] = true
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is safe.
func (s *Storage) Unsubscribe(sub *EventSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if !s.subs[sub] {
		return
	}
	delete(s.subs, sub)
	close(sub.Channel)
}

func (s *Storage) notifySubscribers(event model.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for sub := range s.subs {
		if !sub.Filter.matches(event) {
			continue
		}
		select {
		case sub.Channel <- event:
			sub.LastSeen = time.Now()
		default:
			s.logger.Debugf("Subscriber %s is behind, dropping %s event", sub.ID, event.Type)
		}
	}
}
