package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/database"
)

// Health reports liveness of the service and its dependencies. Redis being
// down degrades anchoring but not the core flows, so it reports degraded
// rather than failing the check.
func Health(store *database.Store, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := map[string]string{"database": "ok", "redis": "ok"}

		if err := store.Ping(ctx); err != nil {
			deps["database"] = "down"
			status = http.StatusServiceUnavailable
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				deps["redis"] = "down"
			}
		} else {
			deps["redis"] = "disabled"
		}

		writeJSON(w, status, map[string]interface{}{
			"status":       httpStatusWord(status),
			"dependencies": deps,
		})
	}
}

// Version reports the build version and the current report schema version.
func Version(build string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":        build,
			"report_version": core.ReportVersion,
		})
	}
}

func httpStatusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
