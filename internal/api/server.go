package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

var allowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// NewRouter wires the observer routes. metrics may be nil when the
// exporter runs on its own port.
func NewRouter(h *Handlers, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()

	// A subrouter without its own handler reports method mismatches as 404.
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	api.MethodNotAllowedHandler = notAllowed
	router.MethodNotAllowedHandler = corsMiddleware(notAllowed)

	api.HandleFunc("/status", h.GetStatus).Methods("GET")

	api.HandleFunc("/policies", h.GetPolicies).Methods("GET")
	api.HandleFunc("/policies/{id}", h.GetPolicy).Methods("GET")
	api.HandleFunc("/policies/{id}", h.ApplyPolicy).Methods("PUT")

	api.HandleFunc("/packets", h.GetPackets).Methods("GET")
	api.HandleFunc("/anomalies", h.GetAnomalies).Methods("GET")
	api.HandleFunc("/events", h.GetEvents).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/stream/events", h.StreamEvents).Methods("GET")

	api.HandleFunc("/interfaces", h.GetInterfaces).Methods("GET")
	api.HandleFunc("/training", h.TriggerTraining).Methods("POST")
	api.HandleFunc("/metrics/timeseries", h.GetTimeseries).Methods("GET")

	if metrics != nil {
		router.Handle("/metrics", metrics).Methods("GET")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowOrigin := "*"
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				allowOrigin = origin
				break
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")
		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type Server struct {
	srv    *http.Server
	logger *logrus.Logger
}

func NewServer(port string, handler http.Handler, logger *logrus.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("API server starting on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
