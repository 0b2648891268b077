package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sahay/backend/internal/analytics"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

// ConsentChecker answers whether a grant is active at a point in time.
type ConsentChecker interface {
	IsGranted(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, asOf time.Time) (bool, error)
}

type emitEventRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// EmitAnalyticsEvent ingests one client-side event into the de-identified
// pipeline. Without an active analytics grant the event is rejected, and an
// event the pipeline would drop (unknown type, disallowed key, category
// outside the allow-list) fails validation instead of being accepted
// hollow. Acceptance means queued, not aggregated.
func EmitAnalyticsEvent(p *analytics.Pipeline, gate ConsentChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emitEventRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		id := middleware.IdentityFrom(r.Context())
		granted, err := gate.IsGranted(r.Context(), id.User.ID,
			core.ConsentAnalytics, core.ScopeGovAggregated, time.Now().UTC())
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if !granted {
			middleware.WriteError(w, core.E(core.KindConsentMissing,
				"analytics consent not granted"))
			return
		}

		if err := analytics.ValidateEvent(req.EventType, req.Payload); err != nil {
			middleware.WriteError(w, err)
			return
		}

		p.Emit(r.Context(), id.User.ID, req.EventType, req.Payload)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// QueryAggregates returns k-filtered aggregate buckets for officers. Buckets
// below the anonymity threshold never leave the database layer.
func QueryAggregates(p *analytics.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := queryTime(r, "from")
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		to, err := queryTime(r, "to")
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		q := r.URL.Query()
		rows, err := p.Query(r.Context(), analytics.QueryFilter{
			EventType: q.Get("event_type"),
			Category:  q.Get("category"),
			GeoCell:   q.Get("geo_cell"),
			From:      from,
			To:        to,
		})
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if rows == nil {
			rows = []core.AggregatedEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version": core.ReportVersion,
			"buckets": rows,
			"count":   len(rows),
		})
	}
}
