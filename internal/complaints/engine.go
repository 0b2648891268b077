// Package complaints implements the grievance lifecycle: submission, the
// officer state machine, SLA-driven auto-escalation, and tamper-evident
// closure. Every transition is recorded in status history and on the audit
// chain inside one transaction.
package complaints

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/hashing"
	"github.com/sahay/backend/internal/metrics"
)

// Store is the subset of the database layer the engine needs.
type Store interface {
	CreateComplaint(ctx context.Context, c *core.Complaint) error
	GetComplaint(ctx context.Context, id string) (*core.Complaint, error)
	GetComplaintForUpdate(ctx context.Context, id string) (*core.Complaint, error)
	UpdateComplaint(ctx context.Context, c *core.Complaint) error
	ListComplaintsForSubmitter(ctx context.Context, submitterID string) ([]core.Complaint, error)
	ListComplaintsByStatus(ctx context.Context, status core.ComplaintStatus, limit int) ([]core.Complaint, error)
	ListOverdueComplaints(ctx context.Context, now time.Time, limit int) ([]core.Complaint, error)
	AppendStatusHistory(ctx context.Context, h *core.StatusHistory) error
	StatusHistoryFor(ctx context.Context, complaintID string) ([]core.StatusHistory, error)
	GetSLARule(ctx context.Context, category string, level core.EscalationLevel) (*core.SLARule, error)
	EnqueueMessage(ctx context.Context, m *core.OutboundMessage) error
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

// AnchorQueue schedules a complaint for on-chain anchoring. Failures are
// logged, never surfaced: anchoring degrades gracefully.
type AnchorQueue interface {
	EnqueueAnchor(ctx context.Context, complaintID string) error
}

// DefaultSLA resolves the configured deadline for a (category, level) pair
// when no database rule exists.
type DefaultSLA func(category string, level core.EscalationLevel) time.Duration

type Engine struct {
	runner     Runner
	consent    ConsentGate
	emitter    Emitter
	anchors    AnchorQueue
	metrics    *metrics.Metrics
	defaultSLA DefaultSLA
	now        func() time.Time
}

func NewEngine(runner Runner, consent ConsentGate, emitter Emitter, anchors AnchorQueue, m *metrics.Metrics, defaultSLA DefaultSLA) *Engine {
	return &Engine{
		runner:     runner,
		consent:    consent,
		emitter:    emitter,
		anchors:    anchors,
		metrics:    m,
		defaultSLA: defaultSLA,
		now:        time.Now,
	}
}

// validTransitions is the complete state machine. Auto-escalation is handled
// separately by EscalateOverdue.
var validTransitions = map[core.ComplaintStatus][]core.ComplaintStatus{
	core.ComplaintDraft:       {core.ComplaintSubmitted},
	core.ComplaintSubmitted:   {core.ComplaintUnderReview},
	core.ComplaintUnderReview: {core.ComplaintInProgress},
	core.ComplaintInProgress:  {core.ComplaintResolved},
	core.ComplaintResolved:    {core.ComplaintClosed},
	core.ComplaintEscalated:   {core.ComplaintUnderReview, core.ComplaintInProgress},
}

func canTransition(from, to core.ComplaintStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// SubmitInput describes a new complaint.
type SubmitInput struct {
	SubmitterID string // empty means anonymous
	Category    string
	// Payload is the citizen's description, encrypted by the caller before
	// it reaches the engine.
	Payload []byte
	IP      string
	Device  string
}

// Submit files a complaint at the district level with its first SLA
// deadline. Anonymous submissions store no submitter, IP or device.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*core.Complaint, error) {
	if in.Category == "" {
		return nil, core.E(core.KindValidation, "category is required")
	}
	if len(in.Payload) == 0 {
		return nil, core.E(core.KindValidation, "complaint payload is required")
	}
	if in.SubmitterID != "" {
		if err := e.consent.Require(ctx, in.SubmitterID, core.ConsentComplaints, core.ScopeGovAggregated); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	c := &core.Complaint{
		ID:               uuid.New().String(),
		Category:         in.Category,
		PayloadEncrypted: in.Payload,
		Status:           core.ComplaintSubmitted,
		CreatedAt:        now,
		UpdatedAt:        now,
		EscalationLevel:  core.LevelDistrict,
	}
	if in.SubmitterID != "" {
		c.SubmitterID = &in.SubmitterID
	}

	err := e.runner.InTx(ctx, func(s Store) error {
		deadline, err := e.slaDeadline(ctx, s, c.Category, core.LevelDistrict, now)
		if err != nil {
			return err
		}
		c.SLADeadline = deadline

		if err := s.CreateComplaint(ctx, c); err != nil {
			return err
		}
		if err := s.AppendStatusHistory(ctx, &core.StatusHistory{
			ID:              uuid.New().String(),
			ComplaintID:     c.ID,
			OldStatus:       core.ComplaintDraft,
			NewStatus:       core.ComplaintSubmitted,
			OldLevel:        core.LevelDistrict,
			NewLevel:        core.LevelDistrict,
			ChangedByUserID: c.SubmitterID,
			Reason:          "submitted",
			ChangedAt:       now,
		}); err != nil {
			return err
		}

		rec := audit.Record{
			Action:     "complaint.submit",
			EntityType: "complaint",
			EntityID:   &c.ID,
		}
		if !c.Anonymous() {
			// Anonymous complaints carry no actor, IP or device anywhere.
			rec.ActorUserID = c.SubmitterID
			if in.IP != "" {
				rec.IP = &in.IP
			}
			if in.Device != "" {
				rec.DeviceID = &in.Device
			}
		}
		_, err = audit.NewChain(s).Append(ctx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterTransition(ctx, c, "complaint_submitted")
	return c, nil
}

// Transition applies one officer-driven state change.
func (e *Engine) Transition(ctx context.Context, officerID, complaintID string, to core.ComplaintStatus, reason string) (*core.Complaint, error) {
	if to == core.ComplaintClosed {
		return nil, core.E(core.KindValidation, "closing requires the close operation with feedback")
	}
	var out *core.Complaint
	err := e.runner.InTx(ctx, func(s Store) error {
		c, err := s.GetComplaintForUpdate(ctx, complaintID)
		if err != nil {
			return err
		}
		if c == nil {
			return core.E(core.KindNotFound, "complaint not found")
		}
		if !canTransition(c.Status, to) {
			return core.Ef(core.KindStateInvalid, "cannot move %s to %s", c.Status, to)
		}

		now := e.now().UTC()
		old := c.Status
		c.Status = to
		c.UpdatedAt = now
		if to == core.ComplaintResolved {
			c.ResolvedAt = &now
		}
		if err := s.UpdateComplaint(ctx, c); err != nil {
			return err
		}
		if err := s.AppendStatusHistory(ctx, &core.StatusHistory{
			ID:              uuid.New().String(),
			ComplaintID:     c.ID,
			OldStatus:       old,
			NewStatus:       to,
			OldLevel:        c.EscalationLevel,
			NewLevel:        c.EscalationLevel,
			ChangedByUserID: &officerID,
			Reason:          reason,
			ChangedAt:       now,
		}); err != nil {
			return err
		}
		_, err = audit.NewChain(s).Append(ctx, audit.Record{
			ActorUserID: &officerID,
			Action:      "complaint." + string(to),
			EntityType:  "complaint",
			EntityID:    &c.ID,
		})
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}

	event := ""
	if to == core.ComplaintResolved {
		event = "complaint_resolved"
	}
	e.afterTransition(ctx, out, event)
	return out, nil
}

// Close finishes a resolved complaint. Feedback is mandatory; the closure
// hash binds category, resolution note and feedback so any later edit is
// detectable against the anchored value.
func (e *Engine) Close(ctx context.Context, actorID, complaintID, feedback string, isOfficer bool) (*core.Complaint, error) {
	if feedback == "" {
		return nil, core.E(core.KindValidation, "closure feedback is required")
	}

	var out *core.Complaint
	err := e.runner.InTx(ctx, func(s Store) error {
		c, err := s.GetComplaintForUpdate(ctx, complaintID)
		if err != nil {
			return err
		}
		if c == nil {
			return core.E(core.KindNotFound, "complaint not found")
		}
		if c.Status != core.ComplaintResolved {
			return core.Ef(core.KindStateInvalid, "cannot close a %s complaint", c.Status)
		}
		// A named submitter closes their own complaint; officers close
		// anonymous ones on the citizen's behalf.
		if c.Anonymous() {
			if !isOfficer {
				return core.E(core.KindForbidden, "only an officer can close an anonymous complaint")
			}
		} else if *c.SubmitterID != actorID {
			return core.E(core.KindForbidden, "only the submitter can close")
		}

		note := resolutionNote(ctx, s, c.ID)
		hash, err := hashing.Sum256(map[string]interface{}{
			"category":        c.Category,
			"resolution_note": note,
			"feedback":        feedback,
		})
		if err != nil {
			return err
		}

		now := e.now().UTC()
		old := c.Status
		c.Status = core.ComplaintClosed
		c.UpdatedAt = now
		c.ClosedAt = &now
		c.ClosureFeedback = &feedback
		c.ClosureHash = &hash
		if err := s.UpdateComplaint(ctx, c); err != nil {
			return err
		}
		if err := s.AppendStatusHistory(ctx, &core.StatusHistory{
			ID:              uuid.New().String(),
			ComplaintID:     c.ID,
			OldStatus:       old,
			NewStatus:       core.ComplaintClosed,
			OldLevel:        c.EscalationLevel,
			NewLevel:        c.EscalationLevel,
			ChangedByUserID: &actorID,
			Reason:          "closed with feedback",
			ChangedAt:       now,
		}); err != nil {
			return err
		}
		_, err = audit.NewChain(s).Append(ctx, audit.Record{
			ActorUserID: &actorID,
			Action:      "complaint.closed",
			EntityType:  "complaint",
			EntityID:    &c.ID,
		})
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterTransition(ctx, out, "")
	return out, nil
}

// resolutionNote returns the reason of the latest resolved transition, empty
// when none is recorded.
func resolutionNote(ctx context.Context, s Store, complaintID string) string {
	history, err := s.StatusHistoryFor(ctx, complaintID)
	if err != nil {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].NewStatus == core.ComplaintResolved {
			return history[i].Reason
		}
	}
	return ""
}

// EscalateOverdue is the SLA worker body: every active complaint past its
// deadline moves one level up with a fresh deadline; a complaint already at
// national is marked exhausted instead. Returns how many were escalated.
func (e *Engine) EscalateOverdue(ctx context.Context, limit int) (int, error) {
	escalated := 0
	var emitFor []core.Complaint

	err := e.runner.InTx(ctx, func(s Store) error {
		now := e.now().UTC()
		overdue, err := s.ListOverdueComplaints(ctx, now, limit)
		if err != nil {
			return err
		}

		for i := range overdue {
			c := &overdue[i]
			if c.EscalationLevel == core.LevelNational {
				c.EscalationExhausted = true
				c.UpdatedAt = now
				if err := s.UpdateComplaint(ctx, c); err != nil {
					return err
				}
				continue
			}

			oldLevel := c.EscalationLevel
			oldStatus := c.Status
			c.EscalationLevel = core.NextLevel(oldLevel)
			c.Status = core.ComplaintEscalated
			c.UpdatedAt = now
			deadline, err := e.slaDeadline(ctx, s, c.Category, c.EscalationLevel, now)
			if err != nil {
				return err
			}
			c.SLADeadline = deadline

			if err := s.UpdateComplaint(ctx, c); err != nil {
				return err
			}
			if err := s.AppendStatusHistory(ctx, &core.StatusHistory{
				ID:               uuid.New().String(),
				ComplaintID:      c.ID,
				OldStatus:        oldStatus,
				NewStatus:        core.ComplaintEscalated,
				OldLevel:         oldLevel,
				NewLevel:         c.EscalationLevel,
				Reason:           "sla deadline passed",
				IsAutoEscalation: true,
				ChangedAt:        now,
			}); err != nil {
				return err
			}
			if _, err := audit.NewChain(s).Append(ctx, audit.Record{
				Action:     "complaint.escalated",
				EntityType: "complaint",
				EntityID:   &c.ID,
			}); err != nil {
				return err
			}
			if err := e.notifyEscalation(ctx, s, c); err != nil {
				return err
			}

			escalated++
			emitFor = append(emitFor, *c)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := range emitFor {
		if e.metrics != nil {
			e.metrics.Escalations.Inc()
		}
		e.afterTransition(ctx, &emitFor[i], "complaint_escalated")
	}
	return escalated, nil
}

// notifyEscalation queues an outbound message to the submitter, if known.
func (e *Engine) notifyEscalation(ctx context.Context, s Store, c *core.Complaint) error {
	if c.Anonymous() {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"template":     "complaint_escalated",
		"complaint_id": c.ID,
		"level":        string(c.EscalationLevel),
	})
	if err != nil {
		return err
	}
	return s.EnqueueMessage(ctx, &core.OutboundMessage{
		ID:        uuid.New().String(),
		UserID:    c.SubmitterID,
		Channel:   "sms",
		Payload:   payload,
		Status:    core.MessagePending,
		CreatedAt: e.now().UTC(),
	})
}

func (e *Engine) slaDeadline(ctx context.Context, s Store, category string, level core.EscalationLevel, from time.Time) (time.Time, error) {
	rule, err := s.GetSLARule(ctx, category, level)
	if err != nil {
		return time.Time{}, err
	}
	if rule != nil && rule.TimeLimitHours > 0 {
		return from.Add(time.Duration(rule.TimeLimitHours) * time.Hour), nil
	}
	return from.Add(e.defaultSLA(category, level)), nil
}

// afterTransition runs the post-commit side effects: metrics, analytics,
// anchor scheduling. All of them are best-effort.
func (e *Engine) afterTransition(ctx context.Context, c *core.Complaint, event string) {
	if c == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.ComplaintsByStat.WithLabelValues(string(c.Status)).Inc()
	}
	if e.emitter != nil && event != "" && !c.Anonymous() {
		e.emitter.Emit(ctx, *c.SubmitterID, event, map[string]interface{}{
			"category": c.Category,
		})
	}
	if e.anchors != nil {
		if err := e.anchors.EnqueueAnchor(ctx, c.ID); err != nil {
			log.Printf("complaints: anchor enqueue for %s failed: %v", c.ID, err)
		}
	}
}

// Get returns one complaint for its submitter or an officer.
func (e *Engine) Get(ctx context.Context, requesterID string, isOfficer bool, complaintID string) (*core.Complaint, error) {
	var out *core.Complaint
	err := e.runner.InTx(ctx, func(s Store) error {
		var err error
		out, err = s.GetComplaint(ctx, complaintID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, core.E(core.KindNotFound, "complaint not found")
	}
	if !isOfficer && (out.Anonymous() || *out.SubmitterID != requesterID) {
		return nil, core.E(core.KindForbidden, "not your complaint")
	}
	return out, nil
}

// History returns the status history of one complaint, same access rule as
// Get.
func (e *Engine) History(ctx context.Context, requesterID string, isOfficer bool, complaintID string) ([]core.StatusHistory, error) {
	if _, err := e.Get(ctx, requesterID, isOfficer, complaintID); err != nil {
		return nil, err
	}
	var out []core.StatusHistory
	err := e.runner.InTx(ctx, func(s Store) error {
		var err error
		out, err = s.StatusHistoryFor(ctx, complaintID)
		return err
	})
	return out, err
}

// ListMine lists the requester's complaints.
func (e *Engine) ListMine(ctx context.Context, submitterID string) ([]core.Complaint, error) {
	var out []core.Complaint
	err := e.runner.InTx(ctx, func(s Store) error {
		var err error
		out, err = s.ListComplaintsForSubmitter(ctx, submitterID)
		return err
	})
	return out, err
}

// ListByStatus is the officer queue.
func (e *Engine) ListByStatus(ctx context.Context, status core.ComplaintStatus, limit int) ([]core.Complaint, error) {
	var out []core.Complaint
	err := e.runner.InTx(ctx, func(s Store) error {
		var err error
		out, err = s.ListComplaintsByStatus(ctx, status, limit)
		return err
	})
	return out, err
}
