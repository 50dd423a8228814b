package api

import (
	"bytes"
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
	"netguard/internal/pipeline"
	"netguard/internal/policy"
	"netguard/internal/scorer"
	"netguard/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type fakePipeline struct {
	mu       sync.Mutex
	policies []model.Policy
	applied  []model.Policy
	applyErr error
	trainErr error
}

func (f *fakePipeline) GetStatus(ctx context.Context) pipeline.Status {
	return pipeline.Status{Running: true, Interface: "eth0", DeviceState: "connected"}
}

func (f *fakePipeline) Policies() []model.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Policy(nil), f.policies...)
}

func (f *fakePipeline) ApplyPolicy(p model.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, p)
	f.policies = append(f.policies, p)
	return nil
}

func (f *fakePipeline) TriggerTraining(ctx context.Context) (*model.TrainingResult, error) {
	if f.trainErr != nil {
		return nil, f.trainErr
	}
	return &model.TrainingResult{Status: "success", SamplesTrained: 12, Epochs: 10}, nil
}

type fakeLister struct {
	ifaces []string
	err    error
}

func (f fakeLister) ListInterfaces(ctx context.Context) ([]string, error) {
	return f.ifaces, f.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter(p *fakePipeline, store *storage.Storage, lister InterfaceLister) http.Handler {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("netguard_capture_active 1\n"))
	})
	return NewRouter(NewHandlers(p, store, lister, testLogger()), metrics)
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, storage.NewStorage(10, 10, testLogger()), nil)

	rec := do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "netguard_capture_active") {
		t.Errorf("metrics body = %q", rec.Body.String())
	}
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, storage.NewStorage(10, 10, testLogger()), nil)

	rec := do(t, router, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st pipeline.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Running || st.Interface != "eth0" || st.DeviceState != "connected" {
		t.Errorf("status = %+v", st)
	}
}

func TestApplyPolicy(t *testing.T) {
	p := &fakePipeline{}
	router := newTestRouter(p, storage.NewStorage(10, 10, testLogger()), nil)

	body := []byte(`{"name":"block ssh","kind":"firewall","rules":[{"protocol":"tcp","port":22,"action":"deny"}],"enabled":true}`)
	rec := do(t, router, http.MethodPut, "/api/v1/policies/ssh", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(p.applied) != 1 || p.applied[0].ID != "ssh" {
		t.Fatalf("applied = %+v", p.applied)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/policies/ssh", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get policy code = %d", rec.Code)
	}
	rec = do(t, router, http.MethodGet, "/api/v1/policies/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing policy code = %d", rec.Code)
	}
}

func TestApplyPolicyRejectsInvalid(t *testing.T) {
	p := &fakePipeline{}
	router := newTestRouter(p, storage.NewStorage(10, 10, testLogger()), nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad json", "/api/v1/policies/a", `{`},
		{"id mismatch", "/api/v1/policies/a", `{"id":"b","kind":"firewall"}`},
		{"unknown kind", "/api/v1/policies/a", `{"kind":"qos"}`},
		{"unknown protocol", "/api/v1/policies/a", `{"kind":"firewall","rules":[{"protocol":"sctp","action":"deny"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, tt.path, []byte(tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", rec.Code)
			}
		})
	}
	if len(p.applied) != 0 {
		t.Errorf("invalid policies reached the device: %+v", p.applied)
	}
}

func TestApplyPolicyErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		partial  bool
	}{
		{"not connected", policy.ErrNotConnected, http.StatusServiceUnavailable, false},
		{"partial", &policy.PartialApplyError{PolicyID: "a", RuleIndex: 1, Written: 3, Err: errors.New("timeout")}, http.StatusBadGateway, true},
		{"device failure", errors.New("set failed"), http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakePipeline{applyErr: tt.err}, storage.NewStorage(10, 10, testLogger()), nil)
			rec := do(t, router, http.MethodPut, "/api/v1/policies/a", []byte(`{"kind":"firewall"}`))
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body map[string]interface{}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := body["partial"]; ok != tt.partial {
				t.Errorf("partial field present = %v, want %v (%v)", ok, tt.partial, body)
			}
			if tt.partial && body["written"] != float64(3) {
				t.Errorf("written = %v", body["written"])
			}
		})
	}
}

func TestPacketsAndAnomalies(t *testing.T) {
	store := storage.NewStorage(10, 10, testLogger())
	store.RecordPacket(model.PacketRecord{Source: "10.0.0.1", Destination: "10.0.0.2", Protocol: "TCP", Length: 60})
	store.RecordPacket(model.PacketRecord{Source: "10.0.0.3", Destination: "10.0.0.2", Protocol: "UDP", Length: 80})
	store.AddEvent(model.Event{Type: model.EventAnomaly, Source: "pipeline", Anomaly: &model.Anomaly{
		Packet: model.PacketRecord{Source: "10.0.0.3"}, Confidence: 0.95, Label: "suspicious_traffic", Response: "block",
	}})
	router := newTestRouter(&fakePipeline{}, store, nil)

	var result struct {
		Items []json.RawMessage `json:"items"`
		Total int               `json:"total"`
	}

	rec := do(t, router, http.MethodGet, "/api/v1/packets?protocol=udp", nil)
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("udp packets = %d, want 1", result.Total)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/anomalies?source=10.0.0.3", nil)
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("anomalies = %d, want 1", result.Total)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/events?type=anomaly", nil)
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("events = %d, want 1", result.Total)
	}
}

func TestGetInterfaces(t *testing.T) {
	store := storage.NewStorage(10, 10, testLogger())

	router := newTestRouter(&fakePipeline{}, store, fakeLister{ifaces: []string{"eth0", "lo"}})
	rec := do(t, router, http.MethodGet, "/api/v1/interfaces", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "eth0") {
		t.Errorf("interfaces = %d %s", rec.Code, rec.Body.String())
	}

	router = newTestRouter(&fakePipeline{}, store, fakeLister{err: errors.New("tcpdump: exit status 1")})
	rec = do(t, router, http.MethodGet, "/api/v1/interfaces", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failing lister code = %d", rec.Code)
	}

	router = newTestRouter(&fakePipeline{}, store, nil)
	rec = do(t, router, http.MethodGet, "/api/v1/interfaces", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("missing lister code = %d", rec.Code)
	}
}

func TestTriggerTraining(t *testing.T) {
	store := storage.NewStorage(10, 10, testLogger())

	rec := do(t, newTestRouter(&fakePipeline{}, store, nil), http.MethodPost, "/api/v1/training", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}

	busy := &fakePipeline{trainErr: scorer.ErrTrainingInProgress}
	rec = do(t, newTestRouter(busy, store, nil), http.MethodPost, "/api/v1/training", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("in-progress code = %d, want 409", rec.Code)
	}

	rec = do(t, newTestRouter(&fakePipeline{}, store, nil), http.MethodGet, "/api/v1/training", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET training code = %d, want 405", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, storage.NewStorage(10, 10, testLogger()), nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/training"},
		{http.MethodPost, "/api/v1/policies"},
		{http.MethodDelete, "/api/v1/policies/p1"},
		{http.MethodPut, "/metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, nil)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("code = %d, want 405", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "Method not allowed") {
				t.Errorf("body = %s", rec.Body.String())
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("allow origin = %q, want *", got)
			}
		})
	}
}

func TestCORSPreflightOnAPIRoute(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, storage.NewStorage(10, 10, testLogger()), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/policies/p1", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&fakePipeline{}, storage.NewStorage(10, 10, testLogger()), nil)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow credentials = %q", got)
	}
}

func TestStreamEvents(t *testing.T) {
	store := storage.NewStorage(10, 10, testLogger())
	srv := httptest.NewServer(newTestRouter(&fakePipeline{}, store, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/events?type=anomaly"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]string
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello["type"] != "connected" {
		t.Fatalf("hello = %v", hello)
	}

	store.AddEvent(model.NewEvent(model.EventWarning, "capture", "filtered out"))
	store.AddEvent(model.Event{Type: model.EventAnomaly, Source: "pipeline", Message: "port scan"})

	var event model.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != model.EventAnomaly || event.Message != "port scan" {
		t.Errorf("event = %+v", event)
	}
}

type fakeQuerier struct {
	query string
	span  time.Duration
	step  time.Duration
	err   error
}

func (f *fakeQuerier) RangeSeries(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]client.Series, error) {
	f.query, f.span, f.step = query, end.Sub(start), step
	if f.err != nil {
		return nil, f.err
	}
	return []client.Series{{
		Labels: map[string]string{"response": "block"},
		Points: []client.Point{{Time: end, Value: 0.5}},
	}}, nil
}

func TestGetTimeseries(t *testing.T) {
	store := storage.NewStorage(10, 10, testLogger())
	querier := &fakeQuerier{}
	h := NewHandlers(&fakePipeline{}, store, nil, testLogger())
	h.SetMetricsQuerier(querier)
	router := NewRouter(h, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/metrics/timeseries?metric=anomalies&range=30m&step=30s", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	if querier.query != timeseriesQueries["anomalies"] || querier.span != 30*time.Minute || querier.step != 30*time.Second {
		t.Errorf("querier saw query=%q span=%v step=%v", querier.query, querier.span, querier.step)
	}
	if !strings.Contains(rec.Body.String(), `"response":"block"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	for _, path := range []string{
		"/api/v1/metrics/timeseries?metric=bogus",
		"/api/v1/metrics/timeseries?metric=packets&range=-1h",
		"/api/v1/metrics/timeseries?metric=packets&step=soon",
	} {
		if rec := do(t, router, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s code = %d, want 400", path, rec.Code)
		}
	}

	querier.err = errors.New("connection refused")
	if rec := do(t, router, http.MethodGet, "/api/v1/metrics/timeseries?metric=packets", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("failing querier code = %d, want 502", rec.Code)
	}

	unconfigured := NewRouter(NewHandlers(&fakePipeline{}, store, nil, testLogger()), nil)
	if rec := do(t, unconfigured, http.MethodGet, "/api/v1/metrics/timeseries?metric=packets", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured code = %d, want 503", rec.Code)
	}
}
