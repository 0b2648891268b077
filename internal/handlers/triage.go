package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
	"github.com/sahay/backend/internal/triage"
)

type triageRequest struct {
	Symptoms string `json:"symptoms"`
	Language string `json:"language"`
}

// RunTriage evaluates symptoms and persists the session for the caller.
func RunTriage(engine *triage.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := middleware.IdentityFrom(r.Context())
		session, err := engine.Run(r.Context(), id.User.ID, req.Symptoms, req.Language)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

// GetTriageSession returns one of the caller's sessions.
func GetTriageSession(engine *triage.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		session, err := engine.Get(r.Context(), id.User.ID, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

// TriageHistory lists the caller's sessions, newest first.
func TriageHistory(engine *triage.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		id := middleware.IdentityFrom(r.Context())
		sessions, err := engine.History(r.Context(), id.User.ID, limit)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if sessions == nil {
			sessions = []core.TriageSession{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		})
	}
}
