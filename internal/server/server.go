// Package server exposes the admin API over HTTP and a health service over
// gRPC.
package server

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/analytics"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/outbox"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// Server implements the admin HTTP handlers.
type Server struct {
	store     store.Store
	outbox    *outbox.Runner
	analytics *analytics.Aggregator
	logger    *zap.Logger
	now       func() time.Time

	// DevIngress enables POST /v1/events.
	DevIngress bool
	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

// New returns a Server backed by s.
func New(s store.Store, runner *outbox.Runner, agg *analytics.Aggregator, logger *zap.Logger) *Server {
	return &Server{
		store:     s,
		outbox:    runner,
		analytics: agg,
		logger:    logger.Named("server"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// statusFor maps an error to the HTTP status it should produce.
func statusFor(err error) int {
	var (
		ie inputError
		ve *model.ValidationError
	)
	switch {
	case errors.As(err, &ie), errors.As(err, &ve),
		errors.Is(err, outbox.ErrUnknownEventType),
		errors.Is(err, analytics.ErrInvalidWindow),
		errors.Is(err, analytics.ErrInvalidDays),
		errors.Is(err, analytics.ErrInvalidBucket),
		errors.Is(err, model.ErrTooManyBuckets):
		return http.StatusBadRequest
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotFailed), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError writes err with its mapped status. Internal errors are
// logged and not echoed to the client.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	code := statusFor(err)
	switch code {
	case http.StatusInternalServerError:
		requestLogger(r, s.logger).Error("request failed", zap.String("op", what), zap.Error(err))
		writeError(w, code, "failed to "+what)
	case http.StatusNotFound:
		writeError(w, code, "not found")
	default:
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, code, map[string]any{"error": "validation failed", "fields": ve.Errors})
			return
		}
		writeError(w, code, err.Error())
	}
}
