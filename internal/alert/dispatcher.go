// Package alert fans pipeline events out to notifiers and observers.
package alert

import (
	"context"
	"sync"
	"time"

	"netguard/internal/client"
	"netguard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultBufferSize = 256

type registration struct {
	notifier Notifier
	types    map[model.EventType]bool
}

func (r registration) accepts(t model.EventType) bool {
	return len(r.types) == 0 || r.types[t]
}

// Dispatcher is the pipeline's Emitter. Emit never blocks: events go onto
// a bounded channel and are dropped when it is full. Run delivers them to
// the registered notifiers in order.
type Dispatcher struct {
	notifiers []registration
	events    chan model.Event
	metrics   *client.PrometheusMetrics
	logger    *logrus.Logger
	mu        sync.RWMutex
	done      chan struct{}
}

func NewDispatcher(bufferSize int, logger *logrus.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Dispatcher{
		events: make(chan model.Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) SetMetrics(m *client.PrometheusMetrics) {
	d.metrics = m
}

// RegisterNotifier adds n for the given event types, or for every type when none are given.
func (d *Dispatcher) RegisterNotifier(n Notifier, types ...model.EventType) {
	reg := registration{notifier: n}
	if len(types) > 0 {
		reg.types = make(map[model.EventType]bool, len(types))
		for _, t := range types {
			reg.types[t] = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, reg)
	d.logger.Infof("Registered notifier: %s", n.Name())
}

// Emit implements model.Emitter.
func (d *Dispatcher) Emit(event model.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case d.events <- event:
	default:
		d.metrics.RecordEventDropped()
		d.logger.Errorf("Event channel is full, dropping %s event", event.Type)
	}
}

// Run delivers events until ctx is cancelled, then flushes what is queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-d.events:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) deliver(event model.Event) {
	d.mu.RLock()
	notifiers := make([]registration, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	for _, reg := range notifiers {
		if !reg.accepts(event.Type) {
			continue
		}
		if err := reg.notifier.SendEvent(event); err != nil {
			d.logger.Errorf("Failed to send %s event via %s: %v", event.Type, reg.notifier.Name(), err)
		}
	}
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	return len(d.events)
}
