package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

// SLARuleStore persists per-(category, level) deadline overrides.
type SLARuleStore interface {
	UpsertSLARule(ctx context.Context, r *core.SLARule) error
	ListSLARules(ctx context.Context) ([]core.SLARule, error)
}

type putSLARuleRequest struct {
	Category       string `json:"category"`
	Level          string `json:"level"`
	TimeLimitHours int    `json:"time_limit_hours"`
}

// PutSLARule creates or updates the deadline rule for a (category, level)
// pair. Open complaints keep their current deadline; the rule applies from
// the next transition.
func PutSLARule(store SLARuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req putSLARuleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		level := core.EscalationLevel(req.Level)
		switch level {
		case core.LevelDistrict, core.LevelState, core.LevelNational:
		default:
			middleware.WriteError(w, core.Ef(core.KindValidation, "unknown escalation level %q", req.Level))
			return
		}
		if req.Category == "" {
			middleware.WriteError(w, core.E(core.KindValidation, "category is required"))
			return
		}
		if req.TimeLimitHours <= 0 {
			middleware.WriteError(w, core.E(core.KindValidation, "time_limit_hours must be positive"))
			return
		}

		rule := &core.SLARule{
			ID:             uuid.NewString(),
			Category:       req.Category,
			Level:          level,
			TimeLimitHours: req.TimeLimitHours,
		}
		if err := store.UpsertSLARule(r.Context(), rule); err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

// ListSLARules returns every configured rule.
func ListSLARules(store SLARuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := store.ListSLARules(r.Context())
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if rules == nil {
			rules = []core.SLARule{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rules": rules,
			"count": len(rules),
		})
	}
}
