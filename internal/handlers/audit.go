package handlers

import (
	"net/http"
	"strconv"

	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

// VerifyAuditChain walks the hash chain and reports the first broken link.
// Officer-only; an unbroken chain proves no audit entry was altered.
func VerifyAuditChain(chain *audit.Chain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)

		res, err := chain.Verify(r.Context(), from, to)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// AuditTrail returns the audit entries for one entity, oldest first.
func AuditTrail(chain *audit.Chain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		entityType := q.Get("entity_type")
		entityID := q.Get("entity_id")
		if entityType == "" || entityID == "" {
			middleware.WriteError(w, core.E(core.KindValidation, "entity_type and entity_id are required"))
			return
		}
		entries, err := chain.EntityTrail(r.Context(), entityType, entityID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if entries == nil {
			entries = []core.AuditEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		})
	}
}
