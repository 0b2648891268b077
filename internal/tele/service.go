// Package tele handles teleconsultation requests, clinician assignment and
// prescriptions. Clinician access to a citizen's request is consent-gated.
package tele

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/core"
)

// Prescription summary text bounds. Short enough for one SMS segment pair,
// long enough to carry dosage instructions.
const (
	MinSummaryLen = 160
	MaxSummaryLen = 300
)

// Store is the subset of the database layer the service needs.
type Store interface {
	GetTeleRequest(ctx context.Context, id string) (*core.TeleRequest, error)
	CreateTeleRequest(ctx context.Context, r *core.TeleRequest) error
	UpdateTeleRequest(ctx context.Context, r *core.TeleRequest) error
	ListTeleRequestsForCitizen(ctx context.Context, citizenID string) ([]core.TeleRequest, error)
	ListOpenTeleRequests(ctx context.Context, clinicianID string) ([]core.TeleRequest, error)
	CreatePrescription(ctx context.Context, p *core.Prescription) error
	GetPrescriptionForRequest(ctx context.Context, teleRequestID string) (*core.Prescription, error)
	LastAuditEntryForUpdate(ctx context.Context) (*core.AuditEntry, error)
	InsertAuditEntry(ctx context.Context, e *core.AuditEntry) error
	AuditEntriesRange(ctx context.Context, from, to int64) ([]core.AuditEntry, error)
	AuditEntriesForEntity(ctx context.Context, entityType, entityID string) ([]core.AuditEntry, error)
}

// Runner executes fn transactionally against a Store.
type Runner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// ConsentGate answers whether a data-sharing consent is in force.
type ConsentGate interface {
	Require(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope) error
}

// Emitter receives de-identified analytics events.
type Emitter interface {
	Emit(ctx context.Context, userID, eventType string, payload map[string]interface{})
}

type Service struct {
	runner  Runner
	consent ConsentGate
	emitter Emitter
	now     func() time.Time
}

func NewService(runner Runner, consent ConsentGate, emitter Emitter) *Service {
	return &Service{runner: runner, consent: consent, emitter: emitter, now: time.Now}
}

// Request creates a teleconsultation request. The citizen must have granted
// clinician-scoped tracking consent, otherwise there is nothing a clinician
// would be allowed to see.
func (s *Service) Request(ctx context.Context, citizenID, summary string) (*core.TeleRequest, error) {
	if summary == "" {
		return nil, core.E(core.KindValidation, "summary is required")
	}
	if err := s.consent.Require(ctx, citizenID, core.ConsentTracking, core.ScopeClinician); err != nil {
		return nil, err
	}

	r := &core.TeleRequest{
		ID:        uuid.New().String(),
		CitizenID: citizenID,
		Status:    core.TeleRequested,
		Summary:   summary,
		CreatedAt: s.now().UTC(),
	}
	err := s.runner.InTx(ctx, func(st Store) error {
		if err := st.CreateTeleRequest(ctx, r); err != nil {
			return err
		}
		_, err := audit.NewChain(st).Append(ctx, audit.Record{
			ActorUserID: &citizenID,
			Action:      "tele.request",
			EntityType:  "tele_request",
			EntityID:    &r.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.emitter != nil {
		s.emitter.Emit(ctx, citizenID, "tele_request_created", map[string]interface{}{})
	}
	return r, nil
}

// validTransitions for clinician-driven status moves.
var validTransitions = map[core.TeleRequestStatus][]core.TeleRequestStatus{
	core.TeleRequested:  {core.TeleScheduled},
	core.TeleScheduled:  {core.TeleInProgress},
	core.TeleInProgress: {core.TeleCompleted},
}

func canTransition(from, to core.TeleRequestStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Claim assigns an unclaimed request to the clinician and schedules it.
func (s *Service) Claim(ctx context.Context, clinicianID, requestID string) (*core.TeleRequest, error) {
	return s.transition(ctx, clinicianID, requestID, core.TeleScheduled, true)
}

// Start moves a scheduled request to in_progress.
func (s *Service) Start(ctx context.Context, clinicianID, requestID string) (*core.TeleRequest, error) {
	return s.transition(ctx, clinicianID, requestID, core.TeleInProgress, false)
}

// Complete finishes the consultation.
func (s *Service) Complete(ctx context.Context, clinicianID, requestID string) (*core.TeleRequest, error) {
	r, err := s.transition(ctx, clinicianID, requestID, core.TeleCompleted, false)
	if err != nil {
		return nil, err
	}
	if s.emitter != nil {
		s.emitter.Emit(ctx, r.CitizenID, "tele_consultation_completed", map[string]interface{}{})
	}
	return r, nil
}

func (s *Service) transition(ctx context.Context, clinicianID, requestID string, to core.TeleRequestStatus, claiming bool) (*core.TeleRequest, error) {
	var out *core.TeleRequest
	err := s.runner.InTx(ctx, func(st Store) error {
		r, err := st.GetTeleRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r == nil {
			return core.E(core.KindNotFound, "tele request not found")
		}
		if claiming {
			if r.ClinicianID != nil {
				return core.E(core.KindConflict, "request already claimed")
			}
		} else if r.ClinicianID == nil || *r.ClinicianID != clinicianID {
			return core.E(core.KindForbidden, "not the assigned clinician")
		}
		if !canTransition(r.Status, to) {
			return core.Ef(core.KindStateInvalid, "cannot move %s to %s", r.Status, to)
		}
		// The clinician sees the citizen's data from here on; the consent
		// that authorized the request must still be in force.
		if err := s.consent.Require(ctx, r.CitizenID, core.ConsentTracking, core.ScopeClinician); err != nil {
			return err
		}

		r.Status = to
		if claiming {
			r.ClinicianID = &clinicianID
		}
		if err := st.UpdateTeleRequest(ctx, r); err != nil {
			return err
		}
		_, err = audit.NewChain(st).Append(ctx, audit.Record{
			ActorUserID: &clinicianID,
			Action:      "tele." + string(to),
			EntityType:  "tele_request",
			EntityID:    &r.ID,
		})
		out = r
		return err
	})
	return out, err
}

// Prescribe attaches a prescription to a completed consultation. The summary
// text length is a hard invariant.
func (s *Service) Prescribe(ctx context.Context, clinicianID, requestID string, items []string, summaryText string) (*core.Prescription, error) {
	if n := len(summaryText); n < MinSummaryLen || n > MaxSummaryLen {
		return nil, core.Ef(core.KindValidation,
			"summary_text must be %d-%d characters, got %d", MinSummaryLen, MaxSummaryLen, n)
	}
	if len(items) == 0 {
		return nil, core.E(core.KindValidation, "at least one prescription item is required")
	}

	p := &core.Prescription{
		ID:            uuid.New().String(),
		TeleRequestID: requestID,
		ClinicianID:   clinicianID,
		Items:         items,
		SummaryText:   summaryText,
		CreatedAt:     s.now().UTC(),
	}
	err := s.runner.InTx(ctx, func(st Store) error {
		r, err := st.GetTeleRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r == nil {
			return core.E(core.KindNotFound, "tele request not found")
		}
		if r.ClinicianID == nil || *r.ClinicianID != clinicianID {
			return core.E(core.KindForbidden, "not the assigned clinician")
		}
		if r.Status != core.TeleCompleted {
			return core.E(core.KindStateInvalid, "prescription requires a completed consultation")
		}
		if err := st.CreatePrescription(ctx, p); err != nil {
			return err
		}
		_, err = audit.NewChain(st).Append(ctx, audit.Record{
			ActorUserID: &clinicianID,
			Action:      "tele.prescribe",
			EntityType:  "prescription",
			EntityID:    &p.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RequestsForCitizen lists the citizen's own requests.
func (s *Service) RequestsForCitizen(ctx context.Context, citizenID string) ([]core.TeleRequest, error) {
	var out []core.TeleRequest
	err := s.runner.InTx(ctx, func(st Store) error {
		var err error
		out, err = st.ListTeleRequestsForCitizen(ctx, citizenID)
		return err
	})
	return out, err
}

// Queue lists the clinician work queue.
func (s *Service) Queue(ctx context.Context, clinicianID string) ([]core.TeleRequest, error) {
	var out []core.TeleRequest
	err := s.runner.InTx(ctx, func(st Store) error {
		var err error
		out, err = st.ListOpenTeleRequests(ctx, clinicianID)
		return err
	})
	return out, err
}

// PrescriptionFor returns the prescription of a request for its citizen or
// its clinician.
func (s *Service) PrescriptionFor(ctx context.Context, requesterID, requestID string) (*core.Prescription, error) {
	var out *core.Prescription
	err := s.runner.InTx(ctx, func(st Store) error {
		r, err := st.GetTeleRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r == nil {
			return core.E(core.KindNotFound, "tele request not found")
		}
		allowed := r.CitizenID == requesterID ||
			(r.ClinicianID != nil && *r.ClinicianID == requesterID)
		if !allowed {
			return core.E(core.KindForbidden, "not a participant of this consultation")
		}
		out, err = st.GetPrescriptionForRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, core.E(core.KindNotFound, "no prescription recorded")
	}
	return out, nil
}
