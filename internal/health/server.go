// Package health exposes the HTTP surface: liveness, metrics, the
// audit API and the recovery webhooks.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/sentinel/internal/attribution"
	"github.com/vietddude/sentinel/internal/audit"
	"github.com/vietddude/sentinel/internal/infra/storage"
)

// JobRunner executes a claimed scan job to completion. Satisfied by
// *audit.Hunter.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}

// Server provides the HTTP endpoints.
type Server struct {
	tracker  *audit.Tracker
	runner   JobRunner
	resolver *attribution.Resolver
	ghosts   storage.GhostRepository
	ping     func(ctx context.Context) error // nil when no backing db
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	port int,
	tracker *audit.Tracker,
	runner JobRunner,
	resolver *attribution.Resolver,
	ghosts storage.GhostRepository,
	ping func(ctx context.Context) error,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		tracker:  tracker,
		runner:   runner,
		resolver: resolver,
		ghosts:   ghosts,
		ping:     ping,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default(),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /audits", s.handleStartAudit)
	mux.HandleFunc("GET /audits/{id}", s.handleGetAudit)
	mux.HandleFunc("GET /merchants/{id}/ghosts", s.handleListGhosts)
	mux.HandleFunc("GET /merchants/{id}/stats", s.handleStats)
	mux.HandleFunc("POST /webhooks/strike/{ghostID}/click", s.handleStrikeClick)
	mux.HandleFunc("POST /webhooks/payment-confirmed", s.handlePaymentConfirmed)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			s.log.Warn("health check failed", "error", err)
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleStartAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantID string `json:"merchant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MerchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant_id required")
		return
	}

	job, err := s.tracker.StartAudit(r.Context(), req.MerchantID)
	if errors.Is(err, audit.ErrAuditInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("start audit failed", "merchant", req.MerchantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start audit")
		return
	}

	// The scan runs for minutes; the request only accepts it.
	go func() {
		if err := s.runner.RunJob(context.Background(), job.ID); err != nil {
			s.log.Error("audit run failed", "job", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	job, err := s.tracker.GetScanJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "scan job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListGhosts(w http.ResponseWriter, r *http.Request) {
	ghosts, err := s.ghosts.GetByMerchant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ghosts": ghosts, "count": len(ghosts)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	bucket := storage.BucketDaily
	switch r.URL.Query().Get("bucket") {
	case "", "daily":
	case "monthly":
		bucket = storage.BucketMonthly
	default:
		writeError(w, http.StatusBadRequest, "bucket must be daily or monthly")
		return
	}

	stats, err := s.ghosts.RecoveryStats(r.Context(), r.PathValue("id"), bucket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleStrikeClick(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.OnLinkClicked(r.Context(), r.PathValue("ghostID")); err != nil {
		s.log.Error("click webhook failed", "error", err)
		writeError(w, http.StatusInternalServerError, "click not recorded")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id required")
		return
	}
	if err := s.resolver.OnPaymentConfirmed(r.Context(), req.InvoiceID); err != nil {
		s.log.Error("payment webhook failed", "invoice", req.InvoiceID, "error", err)
		writeError(w, http.StatusInternalServerError, "payment not resolved")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
