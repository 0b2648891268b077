package handlers

import (
	"context"
	"net/http"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

// ProfileExportStore reads the caller-owned records included in an export.
type ProfileExportStore interface {
	GetProfile(ctx context.Context, userID string) (*core.Profile, error)
	ConsentHistory(ctx context.Context, userID string) ([]core.Consent, error)
	ListTriageSessions(ctx context.Context, ownerID string, limit int) ([]core.TriageSession, error)
}

// ExportProfile returns the caller's profile, consent trail and recent
// triage sessions as a versioned report envelope.
func ExportProfile(store ProfileExportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())

		profile, err := store.GetProfile(r.Context(), id.User.ID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		consents, err := store.ConsentHistory(r.Context(), id.User.ID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		sessions, err := store.ListTriageSessions(r.Context(), id.User.ID, 50)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if consents == nil {
			consents = []core.Consent{}
		}
		if sessions == nil {
			sessions = []core.TriageSession{}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"report_version":  core.ReportVersion,
			"user":            id.User,
			"profile":         profile,
			"consents":        consents,
			"triage_sessions": sessions,
		})
	}
}
