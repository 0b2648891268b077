package handlers

import (
	"net/http"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
	"github.com/sahay/backend/internal/syncgw"
)

type syncBatchRequest struct {
	DeviceID string       `json:"device_id"`
	Items    []syncgw.Item `json:"items"`
}

// SyncBatch accepts one offline batch and returns a per-item outcome list in
// upload order.
func SyncBatch(gw *syncgw.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncBatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.DeviceID == "" {
			middleware.WriteError(w, core.E(core.KindValidation, "device_id is required"))
			return
		}
		id := middleware.IdentityFrom(r.Context())
		results, err := gw.ProcessBatch(r.Context(), id.User.ID, req.DeviceID, req.Items)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": results,
			"count":   len(results),
		})
	}
}
