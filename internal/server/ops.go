package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/internal/readiness"
)

// ReadinessChecker is the slice of the readiness checker the ops endpoint
// exposes.
type ReadinessChecker interface {
	Check(ctx context.Context) *readiness.Result
}

// NewOpsServer builds the operational HTTP endpoint: process liveness on
// /healthz, aggregate backend readiness on /readyz and Prometheus metrics on
// /metrics.
func NewOpsServer(port string, checker ReadinessChecker, log *zap.Logger) *http.Server {
	h := &opsHandler{checker: checker, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.liveness)
	mux.HandleFunc("/readyz", h.readiness)
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}

type opsHandler struct {
	checker ReadinessChecker
	log     *zap.Logger
}

// liveness only says the process is up; backend state belongs to readiness.
func (h *opsHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(readiness.StatusUp)})
}

func (h *opsHandler) readiness(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Check(r.Context())
	status := http.StatusOK
	if !result.Up() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, result)
}

func (h *opsHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("Failed to write ops response", zap.Error(err))
	}
}
