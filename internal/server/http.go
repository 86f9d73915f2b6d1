package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/deliveries", s.handleListDeliveries)
	mux.HandleFunc("GET /v1/deliveries/{id}", s.handleGetDelivery)
	mux.HandleFunc("POST /v1/deliveries/{id}/retry", s.handleRetryDelivery)
	mux.HandleFunc("GET /v1/attempts", s.handleListAttempts)
	mux.HandleFunc("POST /v1/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("GET /v1/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("GET /v1/subscriptions/{id}", s.handleGetSubscription)
	mux.HandleFunc("PUT /v1/subscriptions/{id}", s.handleUpdateSubscription)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.handleDeleteSubscription)
	mux.HandleFunc("POST /v1/subscriptions/{id}/pause", s.handlePauseSubscription(true))
	mux.HandleFunc("POST /v1/subscriptions/{id}/resume", s.handlePauseSubscription(false))
	mux.HandleFunc("GET /v1/kpi/backlog", s.handleBacklog)
	mux.HandleFunc("GET /v1/kpi/deliveries", s.handleDeliveriesCount)
	mux.HandleFunc("GET /v1/kpi/first-attempt-success", s.handleFirstAttemptSuccess)
	mux.HandleFunc("GET /v1/kpi/eventual-success", s.handleEventualSuccess)
	mux.HandleFunc("GET /v1/kpi/delivered-within-60s", s.handleDeliveredWithin)
	mux.HandleFunc("GET /v1/kpi/latency", s.handleLatency)
	mux.HandleFunc("GET /v1/kpi/volume", s.handleVolume)
	mux.HandleFunc("GET /v1/kpi/summary", s.handleSummary)
	mux.HandleFunc("POST /v1/events", s.handleAppendEvent)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	return RequestLogger(s.logger, AuthMiddleware(authToken, mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
