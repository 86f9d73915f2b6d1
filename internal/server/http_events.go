package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/outbox"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// handleAppendEvent handles POST /v1/events. It writes one event through
// the outbox, standing in for the indexer in development.
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	if !s.DevIngress || s.outbox == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var e model.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	e.ID = 0
	if e.Version == 0 {
		e.Version = 1
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now

	ctx := r.Context()
	err := s.outbox.Run(ctx, func(_ store.Store, ob *outbox.Outbox) error {
		return ob.Append(ctx, &e)
	})
	if err != nil {
		s.writeStoreError(w, r, err, "append event")
		return
	}
	requestLogger(r, s.logger).Debug("event appended",
		zap.Int64("event_id", e.ID), zap.String("uid", e.UID), zap.String("event_type", string(e.EventType)))
	writeJSON(w, http.StatusAccepted, map[string]any{"id": e.ID, "uid": e.UID})
}
