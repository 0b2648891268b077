package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

const complaintColumns = `id, submitter_id, category, payload_encrypted, status,
	created_at, updated_at, sla_deadline, escalation_level, escalation_exhausted,
	closure_feedback, closure_hash, resolved_at, closed_at`

func (s *Store) CreateComplaint(ctx context.Context, c *core.Complaint) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO complaints (`+complaintColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.SubmitterID, c.Category, c.PayloadEncrypted, string(c.Status),
		c.CreatedAt, c.UpdatedAt, c.SLADeadline, string(c.EscalationLevel), c.EscalationExhausted,
		c.ClosureFeedback, c.ClosureHash, c.ResolvedAt, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("create complaint: %w", err)
	}
	return nil
}

func (s *Store) GetComplaint(ctx context.Context, id string) (*core.Complaint, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, id)
	return scanComplaint(row)
}

// GetComplaintForUpdate locks the row for a state transition.
func (s *Store) GetComplaintForUpdate(ctx context.Context, id string) (*core.Complaint, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE id = $1 FOR UPDATE`, id)
	return scanComplaint(row)
}

func scanComplaint(row *sql.Row) (*core.Complaint, error) {
	var c core.Complaint
	err := row.Scan(&c.ID, &c.SubmitterID, &c.Category, &c.PayloadEncrypted, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.SLADeadline, &c.EscalationLevel, &c.EscalationExhausted,
		&c.ClosureFeedback, &c.ClosureHash, &c.ResolvedAt, &c.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan complaint: %w", err)
	}
	return &c, nil
}

func (s *Store) UpdateComplaint(ctx context.Context, c *core.Complaint) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE complaints SET
			status = $2, updated_at = $3, sla_deadline = $4, escalation_level = $5,
			escalation_exhausted = $6, closure_feedback = $7, closure_hash = $8,
			resolved_at = $9, closed_at = $10
		 WHERE id = $1`,
		c.ID, string(c.Status), c.UpdatedAt, c.SLADeadline, string(c.EscalationLevel),
		c.EscalationExhausted, c.ClosureFeedback, c.ClosureHash, c.ResolvedAt, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("update complaint: %w", err)
	}
	return nil
}

func (s *Store) ListComplaintsForSubmitter(ctx context.Context, submitterID string) ([]core.Complaint, error) {
	return s.listComplaints(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE submitter_id = $1 ORDER BY created_at DESC`,
		submitterID)
}

// ListComplaintsByStatus is the officer queue view.
func (s *Store) ListComplaintsByStatus(ctx context.Context, status core.ComplaintStatus, limit int) ([]core.Complaint, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listComplaints(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE status = $1 ORDER BY sla_deadline ASC LIMIT $2`,
		string(status), limit)
}

// ListOverdueComplaints returns active complaints whose SLA deadline has
// passed, locked so the escalation worker owns them for the transaction.
func (s *Store) ListOverdueComplaints(ctx context.Context, now time.Time, limit int) ([]core.Complaint, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listComplaints(ctx,
		`SELECT `+complaintColumns+` FROM complaints
		 WHERE sla_deadline < $1
		   AND status IN ('submitted', 'under_review', 'in_progress', 'escalated')
		   AND NOT escalation_exhausted
		 ORDER BY sla_deadline ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		now, limit)
}

func (s *Store) listComplaints(ctx context.Context, query string, args ...interface{}) ([]core.Complaint, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	var out []core.Complaint
	for rows.Next() {
		var c core.Complaint
		if err := rows.Scan(&c.ID, &c.SubmitterID, &c.Category, &c.PayloadEncrypted, &c.Status,
			&c.CreatedAt, &c.UpdatedAt, &c.SLADeadline, &c.EscalationLevel, &c.EscalationExhausted,
			&c.ClosureFeedback, &c.ClosureHash, &c.ResolvedAt, &c.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ============================================================================
// STATUS HISTORY / SLA RULES / EVIDENCE
// ============================================================================

func (s *Store) AppendStatusHistory(ctx context.Context, h *core.StatusHistory) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO complaint_status_history
			(id, complaint_id, old_status, new_status, old_level, new_level,
			 changed_by_user_id, reason, is_auto_escalation, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ID, h.ComplaintID, string(h.OldStatus), string(h.NewStatus),
		string(h.OldLevel), string(h.NewLevel), h.ChangedByUserID,
		h.Reason, h.IsAutoEscalation, h.ChangedAt)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (s *Store) StatusHistoryFor(ctx context.Context, complaintID string) ([]core.StatusHistory, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, complaint_id, old_status, new_status, old_level, new_level,
			changed_by_user_id, reason, is_auto_escalation, changed_at
		 FROM complaint_status_history WHERE complaint_id = $1 ORDER BY changed_at ASC, id ASC`,
		complaintID)
	if err != nil {
		return nil, fmt.Errorf("status history: %w", err)
	}
	defer rows.Close()

	var out []core.StatusHistory
	for rows.Next() {
		var h core.StatusHistory
		if err := rows.Scan(&h.ID, &h.ComplaintID, &h.OldStatus, &h.NewStatus,
			&h.OldLevel, &h.NewLevel, &h.ChangedByUserID, &h.Reason,
			&h.IsAutoEscalation, &h.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSLARule(ctx context.Context, r *core.SLARule) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO sla_rules (id, category, escalation_level, time_limit_hours)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (category, escalation_level)
		 DO UPDATE SET time_limit_hours = EXCLUDED.time_limit_hours`,
		r.ID, r.Category, string(r.Level), r.TimeLimitHours)
	if err != nil {
		return fmt.Errorf("upsert sla rule: %w", err)
	}
	return nil
}

// GetSLARule returns nil when no rule exists for the pair; callers fall back
// to the configured default.
func (s *Store) GetSLARule(ctx context.Context, category string, level core.EscalationLevel) (*core.SLARule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, category, escalation_level, time_limit_hours
		 FROM sla_rules WHERE category = $1 AND escalation_level = $2`,
		category, string(level))

	var r core.SLARule
	err := row.Scan(&r.ID, &r.Category, &r.Level, &r.TimeLimitHours)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sla rule: %w", err)
	}
	return &r, nil
}

func (s *Store) ListSLARules(ctx context.Context) ([]core.SLARule, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, category, escalation_level, time_limit_hours
		 FROM sla_rules ORDER BY category, escalation_level`)
	if err != nil {
		return nil, fmt.Errorf("list sla rules: %w", err)
	}
	defer rows.Close()

	var out []core.SLARule
	for rows.Next() {
		var r core.SLARule
		if err := rows.Scan(&r.ID, &r.Category, &r.Level, &r.TimeLimitHours); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddComplaintEvidence(ctx context.Context, id, complaintID, filename, contentType string, size int64, checksum string, uploadedAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO complaint_evidence (id, complaint_id, filename, content_type, size_bytes, checksum, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, complaintID, filename, contentType, size, checksum, uploadedAt)
	if err != nil {
		return fmt.Errorf("add complaint evidence: %w", err)
	}
	return nil
}

type EvidenceRecord struct {
	ID          string
	ComplaintID string
	Filename    string
	ContentType string
	SizeBytes   int64
	Checksum    string
	UploadedAt  time.Time
}

func (s *Store) ListComplaintEvidence(ctx context.Context, complaintID string) ([]EvidenceRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, complaint_id, filename, content_type, size_bytes, checksum, uploaded_at
		 FROM complaint_evidence WHERE complaint_id = $1 ORDER BY uploaded_at ASC`,
		complaintID)
	if err != nil {
		return nil, fmt.Errorf("list complaint evidence: %w", err)
	}
	defer rows.Close()

	var out []EvidenceRecord
	for rows.Next() {
		var r EvidenceRecord
		if err := rows.Scan(&r.ID, &r.ComplaintID, &r.Filename, &r.ContentType,
			&r.SizeBytes, &r.Checksum, &r.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
