package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"netguard/internal/client"
	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

type captureNotifier struct {
	name string
	err  error

	mu     sync.Mutex
	events []model.Event
}

func (c *captureNotifier) Name() string { return c.name }

func (c *captureNotifier) SendEvent(e model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *captureNotifier) received() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDispatcherFanOutAndFilter(t *testing.T) {
	d := NewDispatcher(16, quietLogger())
	all := &captureNotifier{name: "all"}
	anomalies := &captureNotifier{name: "anomalies"}
	failing := &captureNotifier{name: "failing", err: errors.New("unreachable")}
	d.RegisterNotifier(all)
	d.RegisterNotifier(anomalies, model.EventAnomaly)
	d.RegisterNotifier(failing)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Emit(model.NewEvent(model.EventPipelineStarted, "pipeline", "started"))
	d.Emit(model.NewEvent(model.EventAnomaly, "pipeline", "anomaly"))
	d.Emit(model.NewEvent(model.EventWarning, "capture", "stderr"))
	cancel()
	d.Wait()

	got := all.received()
	if len(got) != 3 {
		t.Fatalf("all received %d events, want 3", len(got))
	}
	for i, want := range []model.EventType{model.EventPipelineStarted, model.EventAnomaly, model.EventWarning} {
		if got[i].Type != want {
			t.Errorf("event %d = %s, want %s", i, got[i].Type, want)
		}
		if got[i].ID == "" {
			t.Errorf("event %d has no ID", i)
		}
	}
	if n := len(anomalies.received()); n != 1 {
		t.Errorf("filtered notifier received %d events, want 1", n)
	}
	if n := len(failing.received()); n != 3 {
		t.Errorf("a failing notifier still gets every event, got %d", n)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(2, quietLogger())
	d.SetMetrics(client.NewPrometheusMetrics())

	for i := 0; i < 5; i++ {
		d.Emit(model.NewEvent(model.EventWarning, "test", "x"))
	}
	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}
}

func TestTelegramNotifier(t *testing.T) {
	var mu sync.Mutex
	var got TelegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(TelegramResponse{OK: true})
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("TOKEN", "42", "Markdown", true, "", quietLogger())
	tn.apiBase = srv.URL

	event := model.NewEvent(model.EventAnomaly, "pipeline", "anomaly")
	event.Anomaly = &model.Anomaly{
		Packet:     model.PacketRecord{Source: "203.0.113.7", Destination: "10.0.0.1", Ports: &model.PortPair{Source: 4000, Destination: 22}},
		Confidence: 0.95,
		Label:      "suspicious_traffic",
		Response:   "block",
	}
	if err := tn.SendEvent(event); err != nil {
		t.Fatalf("SendEvent() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got.ChatID != "42" || got.ParseMode != "" {
		t.Errorf("message = %+v", got)
	}
	for _, want := range []string{"suspicious_traffic", "203.0.113.7", "10.0.0.1:22", "0.95", "block"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("message text missing %q:\n%s", want, got.Text)
		}
	}
}

func TestTelegramNotifierRetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(TelegramResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("T", "1", "", true, "", quietLogger())
	tn.apiBase = srv.URL
	tn.retryDelay = time.Millisecond

	if err := tn.SendEvent(model.NewEvent(model.EventFatal, "capture", "exited")); err == nil {
		t.Fatal("SendEvent() error = nil")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestTelegramTemplateAndDisabled(t *testing.T) {
	tn := NewTelegramNotifier("T", "1", "", false, `{{.Type}} at {{formatTime .Timestamp "15:04"}}`, quietLogger())
	event := model.NewEvent(model.EventPolicyApplied, "policy", "applied")
	event.Timestamp = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	if msg := tn.formatMessage(event); msg != "policy_applied at 09:30" {
		t.Errorf("formatMessage() = %q", msg)
	}
	if err := tn.SendEvent(event); err != nil {
		t.Errorf("disabled notifier SendEvent() error = %v", err)
	}
}

func TestCustomRegistryServesPipelineMetrics(t *testing.T) {
	metrics := client.NewPrometheusMetrics()
	registry, err := CreateCustomRegistry(metrics)
	if err != nil {
		t.Fatalf("CreateCustomRegistry() error = %v", err)
	}
	metrics.RecordAnomaly("suspicious_traffic", "block")
	metrics.SetDeviceConnected(true)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`netguard_anomalies_total{label="suspicious_traffic",response="block"} 1`,
		"netguard_device_connected 1",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
