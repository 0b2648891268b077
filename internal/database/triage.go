package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sahay/backend/internal/core"
)

func (s *Store) CreateTriageSession(ctx context.Context, t *core.TriageSession) error {
	flags, err := json.Marshal(t.RedFlags)
	if err != nil {
		return fmt.Errorf("marshal red flags: %w", err)
	}
	if t.RedFlags == nil {
		flags = []byte("[]")
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO triage_sessions (id, owner_id, symptoms_text, category, red_flags, guidance_text, language, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.OwnerID, t.SymptomsText, string(t.Category), flags, t.GuidanceText, t.Language, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create triage session: %w", err)
	}
	return nil
}

func (s *Store) GetTriageSession(ctx context.Context, id string) (*core.TriageSession, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, owner_id, symptoms_text, category, red_flags, guidance_text, language, created_at
		 FROM triage_sessions WHERE id = $1`, id)

	var t core.TriageSession
	var flags []byte
	err := row.Scan(&t.ID, &t.OwnerID, &t.SymptomsText, &t.Category, &flags,
		&t.GuidanceText, &t.Language, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan triage session: %w", err)
	}
	if err := json.Unmarshal(flags, &t.RedFlags); err != nil {
		return nil, fmt.Errorf("unmarshal red flags: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTriageSessions(ctx context.Context, ownerID string, limit int) ([]core.TriageSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, owner_id, symptoms_text, category, red_flags, guidance_text, language, created_at
		 FROM triage_sessions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list triage sessions: %w", err)
	}
	defer rows.Close()

	var out []core.TriageSession
	for rows.Next() {
		var t core.TriageSession
		var flags []byte
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.SymptomsText, &t.Category, &flags,
			&t.GuidanceText, &t.Language, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(flags, &t.RedFlags); err != nil {
			return nil, fmt.Errorf("unmarshal red flags: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
