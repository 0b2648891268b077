// Package triage turns free-text symptoms into a category, a red-flag list
// and guarded guidance text. It is deliberately rule-based: the same input
// always yields the same answer, and the output can never contain a
// diagnosis claim.
package triage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/metrics"
)

// maxSymptomsLen caps the free-text input.
const maxSymptomsLen = 2000

// Store is the subset of the database layer the engine needs.
type Store interface {
	CreateTriageSession(ctx context.Context, t *core.TriageSession) error
	GetTriageSession(ctx context.Context, id string) (*core.TriageSession, error)
	ListTriageSessions(ctx context.Context, ownerID string, limit int) ([]core.TriageSession, error)
	LastAuditEntryForUpdate(ctx context.Context) (*core.AuditEntry, error)
	InsertAuditEntry(ctx context.Context, e *core.AuditEntry) error
	AuditEntriesRange(ctx context.Context, from, to int64) ([]core.AuditEntry, error)
	AuditEntriesForEntity(ctx context.Context, entityType, entityID string) ([]core.AuditEntry, error)
}

// Runner executes fn transactionally against a Store.
type Runner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Emitter receives de-identified analytics events; the analytics pipeline
// implements it.
type Emitter interface {
	Emit(ctx context.Context, userID, eventType string, payload map[string]interface{})
}

// Engine evaluates symptoms and persists sessions.
type Engine struct {
	runner   Runner
	emitter  Emitter
	metrics  *metrics.Metrics
	redFlags []redFlagRule
	phc      []redFlagRule
	now      func() time.Time
}

func NewEngine(runner Runner, emitter Emitter, m *metrics.Metrics) *Engine {
	return &Engine{
		runner:   runner,
		emitter:  emitter,
		metrics:  m,
		redFlags: compileRules(redFlagSpecs),
		phc:      compileRules(phcSpecs),
		now:      time.Now,
	}
}

// Assessment is the pure evaluation result, before persistence.
type Assessment struct {
	Category core.TriageCategory `json:"category"`
	RedFlags []string            `json:"red_flags"`
	Guidance string              `json:"guidance"`
}

// Evaluate classifies symptoms without side effects. Any red-flag match is
// emergency; any PHC match without red flags is phc; everything else is
// self care.
func (e *Engine) Evaluate(symptoms, language string) (*Assessment, error) {
	if symptoms == "" {
		return nil, core.E(core.KindValidation, "symptoms text is required")
	}
	if len(symptoms) > maxSymptomsLen {
		return nil, core.Ef(core.KindValidation, "symptoms text exceeds %d characters", maxSymptomsLen)
	}
	if language == "" {
		language = "en"
	}

	flags := matchRules(e.redFlags, symptoms)
	category := core.TriageSelfCare
	switch {
	case len(flags) > 0:
		category = core.TriageEmergency
	case len(matchRules(e.phc, symptoms)) > 0:
		category = core.TriagePHC
	}

	if flags == nil {
		flags = []string{}
	}
	return &Assessment{
		Category: category,
		RedFlags: flags,
		Guidance: renderGuidance(category, language),
	}, nil
}

// Run evaluates, persists the session with an audit entry in one
// transaction, and emits the analytics event after commit.
func (e *Engine) Run(ctx context.Context, ownerID, symptoms, language string) (*core.TriageSession, error) {
	assessment, err := e.Evaluate(symptoms, language)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = "en"
	}

	session := &core.TriageSession{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		SymptomsText: symptoms,
		Category:     assessment.Category,
		RedFlags:     assessment.RedFlags,
		GuidanceText: assessment.Guidance,
		Language:     language,
		CreatedAt:    e.now().UTC(),
	}

	err = e.runner.InTx(ctx, func(s Store) error {
		if err := s.CreateTriageSession(ctx, session); err != nil {
			return err
		}
		chain := audit.NewChain(s)
		_, err := chain.Append(ctx, audit.Record{
			ActorUserID: &ownerID,
			Action:      "triage.run",
			EntityType:  "triage_session",
			EntityID:    &session.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.TriageSessions.WithLabelValues(string(session.Category)).Inc()
	}
	if e.emitter != nil {
		eventType := "triage_completed"
		if session.Category == core.TriageEmergency {
			eventType = "triage_emergency"
		}
		e.emitter.Emit(ctx, ownerID, eventType, map[string]interface{}{
			"category":      string(session.Category),
			"red_flag_hits": len(session.RedFlags),
		})
	}
	return session, nil
}

// Get returns a session, enforcing owner access. Officers never see triage
// sessions; only the owner does.
func (e *Engine) Get(ctx context.Context, requesterID, sessionID string) (*core.TriageSession, error) {
	var session *core.TriageSession
	err := e.runner.InTx(ctx, func(s Store) error {
		var err error
		session, err = s.GetTriageSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.E(core.KindNotFound, "triage session not found")
	}
	if session.OwnerID != requesterID {
		return nil, core.E(core.KindForbidden, "not the session owner")
	}
	return session, nil
}

// History lists the requester's own sessions, newest first.
func (e *Engine) History(ctx context.Context, requesterID string, limit int) ([]core.TriageSession, error) {
	var out []core.TriageSession
	err := e.runner.InTx(ctx, func(s Store) error {
		var err error
		out, err = s.ListTriageSessions(ctx, requesterID, limit)
		return err
	})
	return out, err
}
