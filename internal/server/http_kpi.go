package server

import (
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/hookd/internal/analytics"
	"github.com/alfredjeanlab/hookd/internal/model"
)

// kpiHandler parses the KPI filter and writes the result of fn.
func (s *Server) kpiHandler(name string, fn func(r *http.Request, f model.KPIFilter) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := kpiFilter(r.URL.Query())
		if err != nil {
			s.writeStoreError(w, r, err, name)
			return
		}
		v, err := fn(r, f)
		if err != nil {
			s.writeStoreError(w, r, err, name)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// handleBacklog handles GET /v1/kpi/backlog.
func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute backlog", func(r *http.Request, f model.KPIFilter) (any, error) {
		return s.analytics.Backlog(r.Context(), f)
	})(w, r)
}

// handleDeliveriesCount handles GET /v1/kpi/deliveries.
func (s *Server) handleDeliveriesCount(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("count deliveries", func(r *http.Request, f model.KPIFilter) (any, error) {
		n, err := s.analytics.DeliveriesCount(r.Context(), f)
		return map[string]int64{"count": n}, err
	})(w, r)
}

// handleFirstAttemptSuccess handles GET /v1/kpi/first-attempt-success.
func (s *Server) handleFirstAttemptSuccess(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute first attempt success", func(r *http.Request, f model.KPIFilter) (any, error) {
		return s.analytics.FirstAttemptSuccessRate(r.Context(), f)
	})(w, r)
}

// handleEventualSuccess handles GET /v1/kpi/eventual-success.
func (s *Server) handleEventualSuccess(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute eventual success", func(r *http.Request, f model.KPIFilter) (any, error) {
		return s.analytics.EventualSuccessRate(r.Context(), f)
	})(w, r)
}

// handleDeliveredWithin handles GET /v1/kpi/delivered-within-60s.
func (s *Server) handleDeliveredWithin(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute delivered within", func(r *http.Request, f model.KPIFilter) (any, error) {
		return s.analytics.DeliveredWithin(r.Context(), f, analytics.SummaryWithin)
	})(w, r)
}

// handleLatency handles GET /v1/kpi/latency?days=.
func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute latency histogram", func(r *http.Request, f model.KPIFilter) (any, error) {
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, analytics.ErrInvalidDays
			}
			days = n
		}
		return s.analytics.LatencyHistogram(r.Context(), f, days)
	})(w, r)
}

// handleVolume handles GET /v1/kpi/volume?bucket=.
func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute volume", func(r *http.Request, f model.KPIFilter) (any, error) {
		size := model.VolumeHour
		if v := r.URL.Query().Get("bucket"); v != "" {
			size = model.VolumeBucketSize(v)
		}
		points, err := s.analytics.VolumeOverTime(r.Context(), f, size)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bucket": size, "points": points}, nil
	})(w, r)
}

// handleSummary handles GET /v1/kpi/summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.kpiHandler("compute summary", func(r *http.Request, f model.KPIFilter) (any, error) {
		return s.analytics.Summary(r.Context(), f)
	})(w, r)
}
