package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sahay/backend/internal/complaints"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/database"
	"github.com/sahay/backend/internal/evidence"
	"github.com/sahay/backend/internal/middleware"
)

type submitComplaintRequest struct {
	Category string `json:"category"`
	// Payload is the encrypted complaint body, base64 via JSON.
	Payload   []byte `json:"payload"`
	Anonymous bool   `json:"anonymous"`
}

// SubmitComplaint files a complaint. With anonymous set, no submitter, IP or
// device is recorded anywhere, including the audit chain.
func SubmitComplaint(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitComplaintRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in := complaints.SubmitInput{
			Category: req.Category,
			Payload:  req.Payload,
		}
		if !req.Anonymous {
			id := middleware.IdentityFrom(r.Context())
			in.SubmitterID = id.User.ID
			in.IP = clientIP(r)
			in.Device = r.Header.Get("X-Device-ID")
		}
		c, err := engine.Submit(r.Context(), in)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func isOfficer(r *http.Request) bool {
	return middleware.IdentityFrom(r.Context()).HasAnyRole(core.OfficerRoles...)
}

// GetComplaint returns one complaint for its submitter or an officer.
func GetComplaint(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		c, err := engine.Get(r.Context(), id.User.ID, isOfficer(r), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// MyComplaints lists the caller's own complaints.
func MyComplaints(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		list, err := engine.ListMine(r.Context(), id.User.ID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if list == nil {
			list = []core.Complaint{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"complaints": list,
			"count":      len(list),
		})
	}
}

// ComplaintsByStatus is the officer queue view.
func ComplaintsByStatus(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := core.ComplaintStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = core.ComplaintSubmitted
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := engine.ListByStatus(r.Context(), status, limit)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if list == nil {
			list = []core.Complaint{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"complaints": list,
			"count":      len(list),
		})
	}
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// TransitionComplaint applies one officer state change.
func TransitionComplaint(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := middleware.IdentityFrom(r.Context())
		c, err := engine.Transition(r.Context(), id.User.ID, mux.Vars(r)["id"],
			core.ComplaintStatus(req.Status), req.Reason)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type closeRequest struct {
	Feedback string `json:"feedback"`
}

// CloseComplaint closes a resolved complaint with mandatory feedback and
// computes the closure hash.
func CloseComplaint(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req closeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := middleware.IdentityFrom(r.Context())
		c, err := engine.Close(r.Context(), id.User.ID, mux.Vars(r)["id"], req.Feedback, isOfficer(r))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// ComplaintHistory returns the status history trail.
func ComplaintHistory(engine *complaints.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		history, err := engine.History(r.Context(), id.User.ID, isOfficer(r), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if history == nil {
			history = []core.StatusHistory{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"history": history,
			"count":   len(history),
		})
	}
}

// EvidenceStore is the evidence-row surface of the database layer.
type EvidenceStore interface {
	AddComplaintEvidence(ctx context.Context, id, complaintID, filename, contentType string, size int64, checksum string, uploadedAt time.Time) error
	ListComplaintEvidence(ctx context.Context, complaintID string) ([]database.EvidenceRecord, error)
}

// UploadEvidence stores one attachment in the vault and records it against
// the complaint. Access follows the complaint itself: submitter or officer.
func UploadEvidence(engine *complaints.Engine, vault *evidence.Vault, store EvidenceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		complaintID := mux.Vars(r)["id"]
		if _, err := engine.Get(r.Context(), id.User.ID, isOfficer(r), complaintID); err != nil {
			middleware.WriteError(w, err)
			return
		}

		if err := r.ParseMultipartForm(evidence.MaxFileSize); err != nil {
			middleware.WriteError(w, core.Wrap(core.KindValidation, "malformed multipart body", err))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			middleware.WriteError(w, core.E(core.KindValidation, "file field is required"))
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		checksum, size, err := vault.Put(file, contentType)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		recordID := uuid.New().String()
		if err := store.AddComplaintEvidence(r.Context(), recordID, complaintID,
			header.Filename, contentType, size, checksum, time.Now().UTC()); err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":         recordID,
			"checksum":   checksum,
			"size_bytes": size,
		})
	}
}

// ListEvidence returns the attachment metadata for a complaint.
func ListEvidence(engine *complaints.Engine, store EvidenceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		complaintID := mux.Vars(r)["id"]
		if _, err := engine.Get(r.Context(), id.User.ID, isOfficer(r), complaintID); err != nil {
			middleware.WriteError(w, err)
			return
		}
		records, err := store.ListComplaintEvidence(r.Context(), complaintID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"evidence": records,
			"count":    len(records),
		})
	}
}

// AnchorStore reads the on-chain anchor row for a complaint.
type AnchorStore interface {
	GetChainAnchor(ctx context.Context, complaintID string) (*core.ChainAnchor, error)
}

// ComplaintAnchor returns the blockchain anchor status of a complaint.
func ComplaintAnchor(engine *complaints.Engine, store AnchorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		complaintID := mux.Vars(r)["id"]
		if _, err := engine.Get(r.Context(), id.User.ID, isOfficer(r), complaintID); err != nil {
			middleware.WriteError(w, err)
			return
		}
		anchor, err := store.GetChainAnchor(r.Context(), complaintID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if anchor == nil {
			middleware.WriteError(w, core.E(core.KindNotFound, "complaint not yet anchored"))
			return
		}
		writeJSON(w, http.StatusOK, anchor)
	}
}
