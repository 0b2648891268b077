package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/dashboard"
	"github.com/sahay/backend/internal/database"
	"github.com/sahay/backend/internal/middleware"
)

// dashboardView renders one pre-aggregated view query.
func dashboardView(query func(ctx context.Context, geoCell string, from, to time.Time) ([]database.DashboardRow, error)) http.HandlerFunc {
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
		rows, err := query(r.Context(), r.URL.Query().Get("geo_cell"), from, to)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if rows == nil {
			rows = []database.DashboardRow{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version": core.ReportVersion,
			"rows":    rows,
			"count":   len(rows),
		})
	}
}

// HealthTrends serves the health trend view.
func HealthTrends(svc *dashboard.Service) http.HandlerFunc {
	return dashboardView(svc.HealthTrends)
}

// ComplaintStats serves the complaint statistics view.
func ComplaintStats(svc *dashboard.Service) http.HandlerFunc {
	return dashboardView(svc.ComplaintStats)
}

// NeuroScreenings serves the screening coverage view.
func NeuroScreenings(svc *dashboard.Service) http.HandlerFunc {
	return dashboardView(svc.NeuroScreenings)
}

// TeleActivity serves the teleconsultation activity view.
func TeleActivity(svc *dashboard.Service) http.HandlerFunc {
	return dashboardView(svc.TeleActivity)
}

// RefreshViews rebuilds every materialized view on demand.
func RefreshViews(svc *dashboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RefreshAll(r.Context()); err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
	}
}

// DashboardStats reports view freshness.
func DashboardStats(svc *dashboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Stats(r.Context())
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
