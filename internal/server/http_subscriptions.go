package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// maxBodyBytes bounds request bodies read whole.
const maxBodyBytes = 1 << 20

// handleCreateSubscription handles POST /v1/subscriptions.
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var in model.WebhookSubscription
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := s.createSubscription(r.Context(), &in)
	if err != nil {
		s.writeStoreError(w, r, err, "create subscription")
		return
	}
	requestLogger(r, s.logger).Info("subscription created", zap.String("subscription_id", sub.ID), zap.String("app_id", sub.AppID))
	writeJSON(w, http.StatusCreated, redacted(sub))
}

// handleListSubscriptions handles GET /v1/subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	filter, err := subscriptionFilter(r.URL.Query())
	if err != nil {
		s.writeStoreError(w, r, err, "list subscriptions")
		return
	}
	subs, err := s.store.ListSubscriptions(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err, "list subscriptions")
		return
	}
	out := make([]*model.WebhookSubscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, redacted(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// handleGetSubscription handles GET /v1/subscriptions/{id}.
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, r, err, "get subscription")
		return
	}
	writeJSON(w, http.StatusOK, redacted(sub))
}

// handleUpdateSubscription handles PUT /v1/subscriptions/{id}.
func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var (
		in  model.WebhookSubscription
		raw map[string]json.RawMessage
	)
	if json.Unmarshal(body, &raw) != nil || json.Unmarshal(body, &in) != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// An omitted auth keeps the stored credentials.
	if _, ok := raw["auth"]; !ok {
		in.Auth = nil
	}
	sub, err := s.updateSubscription(r.Context(), r.PathValue("id"), &in)
	if err != nil {
		s.writeStoreError(w, r, err, "update subscription")
		return
	}
	writeJSON(w, http.StatusOK, redacted(sub))
}

// handleDeleteSubscription handles DELETE /v1/subscriptions/{id}.
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSubscription(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err, "delete subscription")
		return
	}
	requestLogger(r, s.logger).Info("subscription deleted", zap.String("subscription_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handlePauseSubscription handles POST /v1/subscriptions/{id}/pause and
// /resume.
func (s *Server) handlePauseSubscription(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.store.SetSubscriptionPaused(r.Context(), r.PathValue("id"), paused, s.now())
		if err != nil {
			s.writeStoreError(w, r, err, "pause subscription")
			return
		}
		requestLogger(r, s.logger).Info("subscription paused state changed",
			zap.String("subscription_id", sub.ID), zap.Bool("paused", paused))
		writeJSON(w, http.StatusOK, redacted(sub))
	}
}
