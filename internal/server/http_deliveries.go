package server

import (
	"net/http"

	"go.uber.org/zap"
)

// handleListDeliveries handles GET /v1/deliveries.
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	filter, err := deliveryFilter(r.URL.Query())
	if err != nil {
		s.writeStoreError(w, r, err, "list deliveries")
		return
	}
	rows, next, err := s.store.ListDeliveries(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err, "list deliveries")
		return
	}
	writeJSON(w, http.StatusOK, newPage(rows, next))
}

// handleGetDelivery handles GET /v1/deliveries/{id}.
func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeStoreError(w, r, err, "get delivery")
		return
	}
	d, err := s.store.GetDelivery(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "get delivery")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRetryDelivery handles POST /v1/deliveries/{id}/retry.
func (s *Server) handleRetryDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeStoreError(w, r, err, "retry delivery")
		return
	}
	d, err := s.store.RetryDelivery(r.Context(), id, s.now())
	if err != nil {
		s.writeStoreError(w, r, err, "retry delivery")
		return
	}
	requestLogger(r, s.logger).Info("delivery retried", zap.Int64("delivery_id", id), zap.Int("attempts", d.AttemptsCount))
	writeJSON(w, http.StatusOK, d)
}

// handleListAttempts handles GET /v1/attempts.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	filter, err := attemptFilter(r.URL.Query())
	if err != nil {
		s.writeStoreError(w, r, err, "list attempts")
		return
	}
	rows, next, err := s.store.ListAttempts(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err, "list attempts")
		return
	}
	writeJSON(w, http.StatusOK, newPage(rows, next))
}
