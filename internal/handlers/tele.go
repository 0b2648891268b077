package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
	"github.com/sahay/backend/internal/tele"
)

type teleRequestBody struct {
	Summary string `json:"summary"`
}

// CreateTeleRequest files a new consultation request for the caller.
func CreateTeleRequest(svc *tele.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req teleRequestBody
		if !decodeJSON(w, r, &req) {
			return
		}
		id := middleware.IdentityFrom(r.Context())
		out, err := svc.Request(r.Context(), id.User.ID, req.Summary)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// MyTeleRequests lists the caller's consultation requests.
func MyTeleRequests(svc *tele.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		reqs, err := svc.RequestsForCitizen(r.Context(), id.User.ID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if reqs == nil {
			reqs = []core.TeleRequest{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requests": reqs,
			"count":    len(reqs),
		})
	}
}

// TeleQueue lists the clinician work queue: unclaimed requests plus the
// clinician's active consultations.
func TeleQueue(svc *tele.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		reqs, err := svc.Queue(r.Context(), id.User.ID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if reqs == nil {
			reqs = []core.TeleRequest{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requests": reqs,
			"count":    len(reqs),
		})
	}
}

// teleTransition binds one clinician state move to an endpoint.
func teleTransition(apply func(ctx context.Context, clinicianID, requestID string) (*core.TeleRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		out, err := apply(r.Context(), id.User.ID, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ClaimTele assigns an unclaimed request to the calling clinician.
func ClaimTele(svc *tele.Service) http.HandlerFunc { return teleTransition(svc.Claim) }

// StartTele moves a scheduled consultation to in_progress.
func StartTele(svc *tele.Service) http.HandlerFunc { return teleTransition(svc.Start) }

// CompleteTele finishes a consultation.
func CompleteTele(svc *tele.Service) http.HandlerFunc { return teleTransition(svc.Complete) }

type prescribeRequest struct {
	Items       []string `json:"items"`
	SummaryText string   `json:"summary_text"`
}

// Prescribe attaches a prescription to a completed consultation.
func Prescribe(svc *tele.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req prescribeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := middleware.IdentityFrom(r.Context())
		p, err := svc.Prescribe(r.Context(), id.User.ID, mux.Vars(r)["id"], req.Items, req.SummaryText)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// GetPrescription returns the prescription of a consultation the caller took
// part in.
func GetPrescription(svc *tele.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		p, err := svc.PrescriptionFor(r.Context(), id.User.ID, mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
