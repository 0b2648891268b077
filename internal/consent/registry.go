// Package consent is the append-only consent registry. The effective state
// of a (user, category, scope) pair is the newest record; a policy version
// bump invalidates older grants until the user re-consents.
package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sahay/backend/internal/core"
)

// Store is the subset of the database layer the registry needs.
type Store interface {
	AppendConsent(ctx context.Context, c *core.Consent) error
	LatestConsent(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, asOf time.Time) (*core.Consent, error)
	ConsentHistory(ctx context.Context, userID string) ([]core.Consent, error)
}

// Registry answers consent questions and records grant/revoke decisions.
type Registry struct {
	store          Store
	currentVersion int
	now            func() time.Time
}

func NewRegistry(store Store, currentVersion int) *Registry {
	if currentVersion < 1 {
		currentVersion = 1
	}
	return &Registry{store: store, currentVersion: currentVersion, now: time.Now}
}

// Set appends one grant or revoke record stamped with the current policy
// version. History is never rewritten.
func (r *Registry) Set(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, granted bool) (*core.Consent, error) {
	if !core.ValidConsentCategory(category) {
		return nil, core.Ef(core.KindValidation, "unknown consent category %q", category)
	}
	if !core.ValidConsentScope(scope) {
		return nil, core.Ef(core.KindValidation, "unknown consent scope %q", scope)
	}

	c := &core.Consent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Category:  category,
		Scope:     scope,
		Version:   r.currentVersion,
		Granted:   granted,
		GrantedAt: r.now().UTC(),
	}
	if err := r.store.AppendConsent(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// IsGranted reports whether the pair was effectively granted at asOf: the
// newest record at or before asOf must be a grant at the current policy
// version. No record, a revoke, or a stale version all mean no.
func (r *Registry) IsGranted(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, asOf time.Time) (bool, error) {
	latest, err := r.store.LatestConsent(ctx, userID, category, scope, asOf)
	if err != nil {
		return false, err
	}
	if latest == nil || !latest.Granted {
		return false, nil
	}
	return latest.Version >= r.currentVersion, nil
}

// Require is IsGranted as a gate: it fails with ConsentMissing so handlers
// map it to 403 with the category and scope named.
func (r *Registry) Require(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope) error {
	ok, err := r.IsGranted(ctx, userID, category, scope, r.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return core.Ef(core.KindConsentMissing, "consent %s/%s not granted", category, scope)
	}
	return nil
}

// History returns every consent record for the user, newest first.
func (r *Registry) History(ctx context.Context, userID string) ([]core.Consent, error) {
	return r.store.ConsentHistory(ctx, userID)
}
