package handlers

import (
	"net/http"

	"github.com/sahay/backend/internal/consent"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

type setConsentRequest struct {
	Category string `json:"category"`
	Scope    string `json:"scope"`
	Granted  bool   `json:"granted"`
}

// SetConsent records a grant or revoke for the caller.
func SetConsent(reg *consent.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setConsentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := middleware.IdentityFrom(r.Context())
		c, err := reg.Set(r.Context(), id.User.ID,
			core.ConsentCategory(req.Category), core.ConsentScope(req.Scope), req.Granted)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

// ConsentHistory returns the caller's full consent trail, newest first.
func ConsentHistory(reg *consent.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		history, err := reg.History(r.Context(), id.User.ID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if history == nil {
			history = []core.Consent{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"consents": history,
			"count":    len(history),
		})
	}
}
