package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sahay/backend/internal/core"
)

func (s *Store) CreateTeleRequest(ctx context.Context, r *core.TeleRequest) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO tele_requests (id, citizen_id, clinician_id, status, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.CitizenID, r.ClinicianID, string(r.Status), r.Summary, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create tele request: %w", err)
	}
	return nil
}

func (s *Store) GetTeleRequest(ctx context.Context, id string) (*core.TeleRequest, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, citizen_id, clinician_id, status, summary, created_at
		 FROM tele_requests WHERE id = $1`, id)

	var r core.TeleRequest
	err := row.Scan(&r.ID, &r.CitizenID, &r.ClinicianID, &r.Status, &r.Summary, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tele request: %w", err)
	}
	return &r, nil
}

func (s *Store) UpdateTeleRequest(ctx context.Context, r *core.TeleRequest) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE tele_requests SET clinician_id = $2, status = $3, summary = $4 WHERE id = $1`,
		r.ID, r.ClinicianID, string(r.Status), r.Summary)
	if err != nil {
		return fmt.Errorf("update tele request: %w", err)
	}
	return nil
}

func (s *Store) ListTeleRequestsForCitizen(ctx context.Context, citizenID string) ([]core.TeleRequest, error) {
	return s.listTeleRequests(ctx,
		`SELECT id, citizen_id, clinician_id, status, summary, created_at
		 FROM tele_requests WHERE citizen_id = $1 ORDER BY created_at DESC`, citizenID)
}

// ListOpenTeleRequests returns the clinician work queue: unclaimed requests
// plus those assigned to the given clinician and still open.
func (s *Store) ListOpenTeleRequests(ctx context.Context, clinicianID string) ([]core.TeleRequest, error) {
	return s.listTeleRequests(ctx,
		`SELECT id, citizen_id, clinician_id, status, summary, created_at
		 FROM tele_requests
		 WHERE (clinician_id IS NULL AND status = 'requested')
		    OR (clinician_id = $1 AND status IN ('scheduled', 'in_progress'))
		 ORDER BY created_at ASC`, clinicianID)
}

func (s *Store) listTeleRequests(ctx context.Context, query string, args ...interface{}) ([]core.TeleRequest, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tele requests: %w", err)
	}
	defer rows.Close()

	var out []core.TeleRequest
	for rows.Next() {
		var r core.TeleRequest
		if err := rows.Scan(&r.ID, &r.CitizenID, &r.ClinicianID, &r.Status, &r.Summary, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreatePrescription(ctx context.Context, p *core.Prescription) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshal prescription items: %w", err)
	}
	if p.Items == nil {
		items = []byte("[]")
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO prescriptions (id, tele_request_id, clinician_id, items, summary_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.TeleRequestID, p.ClinicianID, items, p.SummaryText, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create prescription: %w", err)
	}
	return nil
}

func (s *Store) GetPrescriptionForRequest(ctx context.Context, teleRequestID string) (*core.Prescription, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, tele_request_id, clinician_id, items, summary_text, created_at
		 FROM prescriptions WHERE tele_request_id = $1
		 ORDER BY created_at DESC LIMIT 1`, teleRequestID)

	var p core.Prescription
	var items []byte
	err := row.Scan(&p.ID, &p.TeleRequestID, &p.ClinicianID, &items, &p.SummaryText, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan prescription: %w", err)
	}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("unmarshal prescription items: %w", err)
	}
	return &p, nil
}
