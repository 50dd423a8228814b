package builtin

import (
	"time"

	"netguard/internal/model"
)

// sourceWindow counts packets and distinct keys seen for one source since start.
type sourceWindow struct {
	start time.Time
	count int
	keys  map[string]struct{}
}

// windows is a set of fixed, per-source tumbling windows. Not safe for
// concurrent use; rules guard it with their own mutex.
type windows struct {
	size      time.Duration
	bySource  map[string]*sourceWindow
	lastSweep time.Time
}

func newWindows(size time.Duration) *windows {
	return &windows{
		size:     size,
		bySource: make(map[string]*sourceWindow),
	}
}

// observe records one packet for source at t and returns its live window.
func (w *windows) observe(source string, t time.Time) *sourceWindow {
	sw, ok := w.bySource[source]
	if !ok || t.Sub(sw.start) >= w.size || t.Before(sw.start) {
		sw = &sourceWindow{start: t, keys: make(map[string]struct{})}
		w.bySource[source] = sw
	}
	sw.count++
	w.sweep(t)
	return sw
}

// sweep drops expired windows so idle sources do not pile up.
func (w *windows) sweep(t time.Time) {
	if t.Sub(w.lastSweep) < w.size {
		return
	}
	w.lastSweep = t
	for source, sw := range w.bySource {
		if t.Sub(sw.start) >= w.size {
			delete(w.bySource, source)
		}
	}
}

func (w *windows) len() int {
	return len(w.bySource)
}

// packetTime prefers the capture timestamp so replayed captures are judged
// on their own clock.
func packetTime(pkt model.PacketRecord) time.Time {
	if pkt.CapturedAt.IsZero() {
		return time.Now()
	}
	return pkt.CapturedAt
}
