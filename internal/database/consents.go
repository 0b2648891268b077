package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

// AppendConsent inserts one immutable consent record. History is never
// updated in place.
func (s *Store) AppendConsent(ctx context.Context, c *core.Consent) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO consents (id, user_id, category, scope, version, granted, granted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, string(c.Category), string(c.Scope), c.Version, c.Granted, c.GrantedAt)
	if err != nil {
		return fmt.Errorf("append consent: %w", err)
	}
	return nil
}

// LatestConsent returns the newest record for (user, category, scope) dated
// at or before asOf, or nil when none exists.
func (s *Store) LatestConsent(ctx context.Context, userID string, category core.ConsentCategory, scope core.ConsentScope, asOf time.Time) (*core.Consent, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, user_id, category, scope, version, granted, granted_at
		 FROM consents
		 WHERE user_id = $1 AND category = $2 AND scope = $3 AND granted_at <= $4
		 ORDER BY granted_at DESC, id DESC
		 LIMIT 1`,
		userID, string(category), string(scope), asOf)

	var c core.Consent
	err := row.Scan(&c.ID, &c.UserID, &c.Category, &c.Scope, &c.Version, &c.Granted, &c.GrantedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest consent: %w", err)
	}
	return &c, nil
}

// ConsentHistory lists all records for a user, newest first.
func (s *Store) ConsentHistory(ctx context.Context, userID string) ([]core.Consent, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, user_id, category, scope, version, granted, granted_at
		 FROM consents WHERE user_id = $1
		 ORDER BY granted_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("consent history: %w", err)
	}
	defer rows.Close()

	var out []core.Consent
	for rows.Next() {
		var c core.Consent
		if err := rows.Scan(&c.ID, &c.UserID, &c.Category, &c.Scope, &c.Version, &c.Granted, &c.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
