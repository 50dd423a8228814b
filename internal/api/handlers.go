package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"netguard/internal/client"
	"netguard/internal/model"
	"netguard/internal/pipeline"
	"netguard/internal/policy"
	"netguard/internal/scorer"
	"netguard/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// Pipeline is the slice of the orchestrator the API drives.
type Pipeline interface {
	GetStatus(ctx context.Context) pipeline.Status
	Policies() []model.Policy
	ApplyPolicy(p model.Policy) error
	TriggerTraining(ctx context.Context) (*model.TrainingResult, error)
}

// InterfaceLister enumerates capturable interfaces.
type InterfaceLister interface {
	ListInterfaces(ctx context.Context) ([]string, error)
}

// MetricsQuerier reads metric history from a Prometheus server.
type MetricsQuerier interface {
	RangeSeries(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]client.Series, error)
}

// timeseriesQueries are the history views the dashboard can ask for.
var timeseriesQueries = map[string]string{
	"anomalies":     `sum by (response) (rate(netguard_anomalies_total[5m]))`,
	"packets":       `sum(rate(netguard_capture_lines_total{result="parsed"}[5m]))`,
	"rule_hits":     `sum by (rule) (rate(netguard_rule_hits_total[5m]))`,
	"policy_writes": `sum by (result) (rate(netguard_policy_writes_total[5m]))`,
	"score_latency": `histogram_quantile(0.95, sum by (le) (rate(netguard_score_latency_seconds_bucket[5m])))`,
}

type Handlers struct {
	pipeline   Pipeline
	store      *storage.Storage
	interfaces InterfaceLister
	querier    MetricsQuerier
	logger     *logrus.Logger
	upgrader   websocket.Upgrader
}

func NewHandlers(p Pipeline, store *storage.Storage, interfaces InterfaceLister, logger *logrus.Logger) *Handlers {
	return &Handlers{
		pipeline:   p,
		store:      store,
		interfaces: interfaces,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				logger.Debugf("WebSocket origin check: %s", r.Header.Get("Origin"))
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetMetricsQuerier enables the metric history endpoint.
func (h *Handlers) SetMetricsQuerier(q MetricsQuerier) {
	h.querier = q
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.GetStatus(r.Context()))
}

// Policies handlers
func (h *Handlers) GetPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.pipeline.Policies()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": policies,
		"total": len(policies),
	})
}

func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, p := range h.pipeline.Policies() {
		if p.ID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Policy not found")
}

func (h *Handlers) ApplyPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var p model.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if p.ID != "" && p.ID != id {
		writeError(w, http.StatusBadRequest, "Policy id does not match path")
		return
	}
	p.ID = id
	if err := policy.Validate(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pipeline.ApplyPolicy(p); err != nil {
		h.logger.Warnf("Applying policy %s failed: %v", id, err)

		var partial *policy.PartialApplyError
		switch {
		case errors.Is(err, policy.ErrNotConnected), errors.Is(err, policy.ErrConnectionExhausted):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &partial):
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":      err.Error(),
				"partial":    true,
				"rule_index": partial.RuleIndex,
				"written":    partial.Written,
			})
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Traffic handlers
func (h *Handlers) GetPackets(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 1000)
	protocol := r.URL.Query().Get("protocol")
	search := r.URL.Query().Get("search")

	packets := h.store.GetPackets(limit, protocol, search)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": packets,
		"total": len(packets),
	})
}

func (h *Handlers) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	label := r.URL.Query().Get("label")
	source := r.URL.Query().Get("source")

	anomalies := h.store.GetAnomalies(limit, label, source)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": anomalies,
		"total": len(anomalies),
	})
}

func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 1000)
	events := h.store.GetEvents(limit, eventFilter(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
		"total": len(events),
	})
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.GetStats())
}

func (h *Handlers) GetInterfaces(w http.ResponseWriter, r *http.Request) {
	if h.interfaces == nil {
		writeError(w, http.StatusServiceUnavailable, "Capture tool not available")
		return
	}

	ifaces, err := h.interfaces.ListInterfaces(r.Context())
	if err != nil {
		h.logger.Errorf("Listing interfaces failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": ifaces,
		"total": len(ifaces),
	})
}

func (h *Handlers) TriggerTraining(w http.ResponseWriter, r *http.Request) {
	result, err := h.pipeline.TriggerTraining(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, scorer.ErrTrainingInProgress):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Errorf("Training request failed: %v", err)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetTimeseries serves ?metric=<name>&range=1h&step=1m from Prometheus.
func (h *Handlers) GetTimeseries(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		writeError(w, http.StatusServiceUnavailable, "Prometheus not configured")
		return
	}

	metric := r.URL.Query().Get("metric")
	query, ok := timeseriesQueries[metric]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown metric")
		return
	}

	span, err := parseDuration(r.URL.Query().Get("range"), time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range")
		return
	}
	step, err := parseDuration(r.URL.Query().Get("step"), time.Minute)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid step")
		return
	}

	end := time.Now()
	series, err := h.querier.RangeSeries(r.Context(), query, end.Add(-span), end, step)
	if err != nil {
		h.logger.Errorf("Timeseries query for %s failed: %v", metric, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric": metric,
		"series": series,
	})
}

func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	h.logger.Infof("WebSocket connection established from %s", r.RemoteAddr)
	defer func() {
		h.logger.Debugf("WebSocket connection closed for %s", r.RemoteAddr)
		conn.Close()
	}()

	sub := h.store.Subscribe(eventFilter(r))
	defer h.store.Unsubscribe(sub)

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(map[string]string{"type": "connected", "message": "WebSocket connection established"}); err != nil {
		h.logger.Errorf("Failed to send initial message: %v", err)
		return
	}

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() {
		once.Do(func() { close(done) })
	}

	// Only used to notice the client going away.
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.logger.Debugf("Ping failed: %v", err)
				return
			}
		case event, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debugf("WebSocket write error: %v", err)
				return
			}
		}
	}
}

func eventFilter(r *http.Request) storage.EventFilter {
	return storage.EventFilter{
		Type:   model.EventType(r.URL.Query().Get("type")),
		Source: r.URL.Query().Get("source"),
	}
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return d, nil
}

func parseLimit(r *http.Request, def, max int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
