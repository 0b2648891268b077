package database

import (
	"context"
	"fmt"
)

// schemaDDL creates every relational table. Statements are idempotent so the
// server can run them on every boot; materialized views are owned by the
// dashboard package.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		id              TEXT PRIMARY KEY,
		user_id         TEXT UNIQUE NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		full_name       TEXT,
		age             INTEGER,
		sex             TEXT,
		pincode         TEXT,
		client_time     TIMESTAMPTZ,
		client_event_id TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS roles (
		name TEXT PRIMARY KEY
	)`,

	`CREATE TABLE IF NOT EXISTS user_roles (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_name TEXT NOT NULL REFERENCES roles(name),
		UNIQUE (user_id, role_name)
	)`,

	`CREATE TABLE IF NOT EXISTS auth_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		revoked_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS consents (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		category   TEXT NOT NULL,
		scope      TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		granted    BOOLEAN NOT NULL,
		granted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consents_lookup
		ON consents (user_id, category, scope, granted_at DESC)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		seq           BIGSERIAL PRIMARY KEY,
		actor_user_id TEXT,
		action        TEXT NOT NULL,
		entity_type   TEXT NOT NULL,
		entity_id     TEXT,
		ip            TEXT,
		device_id     TEXT,
		ts            TIMESTAMPTZ NOT NULL DEFAULT now(),
		prev_hash     TEXT NOT NULL,
		entry_hash    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log (entity_type, entity_id)`,

	`CREATE TABLE IF NOT EXISTS sync_events (
		event_id    TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_id   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		operation   TEXT NOT NULL,
		client_time TIMESTAMPTZ NOT NULL,
		server_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		payload     JSONB NOT NULL,
		outcome     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_user ON sync_events (user_id, server_time)`,

	`CREATE TABLE IF NOT EXISTS vitals_logs (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL,
		value       TEXT NOT NULL,
		unit        TEXT,
		measured_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS mood_logs (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		mood_scale INTEGER NOT NULL,
		logged_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS water_logs (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount_ml INTEGER NOT NULL,
		logged_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS triage_sessions (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		symptoms_text TEXT NOT NULL,
		category      TEXT NOT NULL,
		red_flags     JSONB NOT NULL DEFAULT '[]',
		guidance_text TEXT NOT NULL,
		language      TEXT NOT NULL DEFAULT 'en',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS tele_requests (
		id           TEXT PRIMARY KEY,
		citizen_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		clinician_id TEXT REFERENCES users(id),
		status       TEXT NOT NULL DEFAULT 'requested',
		summary      TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS prescriptions (
		id              TEXT PRIMARY KEY,
		tele_request_id TEXT NOT NULL REFERENCES tele_requests(id),
		clinician_id    TEXT NOT NULL REFERENCES users(id),
		items           JSONB NOT NULL DEFAULT '[]',
		summary_text    TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS complaints (
		id                   TEXT PRIMARY KEY,
		submitter_id         TEXT REFERENCES users(id) ON DELETE SET NULL,
		category             TEXT NOT NULL,
		payload_encrypted    BYTEA,
		status               TEXT NOT NULL DEFAULT 'submitted',
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		sla_deadline         TIMESTAMPTZ NOT NULL,
		escalation_level     TEXT NOT NULL DEFAULT 'district',
		escalation_exhausted BOOLEAN NOT NULL DEFAULT FALSE,
		closure_feedback     TEXT,
		closure_hash         TEXT,
		resolved_at          TIMESTAMPTZ,
		closed_at            TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_complaints_active
		ON complaints (status, sla_deadline)`,

	`CREATE TABLE IF NOT EXISTS complaint_status_history (
		id                 TEXT PRIMARY KEY,
		complaint_id       TEXT NOT NULL REFERENCES complaints(id) ON DELETE CASCADE,
		old_status         TEXT NOT NULL,
		new_status         TEXT NOT NULL,
		old_level          TEXT NOT NULL,
		new_level          TEXT NOT NULL,
		changed_by_user_id TEXT,
		reason             TEXT NOT NULL DEFAULT '',
		is_auto_escalation BOOLEAN NOT NULL DEFAULT FALSE,
		changed_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sla_rules (
		id               TEXT PRIMARY KEY,
		category         TEXT NOT NULL,
		escalation_level TEXT NOT NULL,
		time_limit_hours INTEGER NOT NULL,
		UNIQUE (category, escalation_level)
	)`,

	`CREATE TABLE IF NOT EXISTS complaint_evidence (
		id           TEXT PRIMARY KEY,
		complaint_id TEXT NOT NULL REFERENCES complaints(id) ON DELETE CASCADE,
		filename     TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL,
		checksum     TEXT NOT NULL,
		uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS chain_anchors (
		id              TEXT PRIMARY KEY,
		complaint_id    TEXT NOT NULL REFERENCES complaints(id) ON DELETE CASCADE,
		complaint_hash  TEXT NOT NULL,
		sla_hash        TEXT NOT NULL,
		status_hash     TEXT NOT NULL,
		status_nonce    BIGINT NOT NULL DEFAULT 0,
		tx_hash         TEXT,
		status          TEXT NOT NULL DEFAULT 'pending',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (complaint_id)
	)`,

	`CREATE TABLE IF NOT EXISTS analytics_events (
		id            TEXT PRIMARY KEY,
		audit_user_id TEXT NOT NULL,
		event_type    TEXT NOT NULL,
		payload_json  JSONB NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS aggregated_events (
		event_type  TEXT NOT NULL,
		category    TEXT NOT NULL,
		time_bucket TIMESTAMPTZ NOT NULL,
		geo_cell    TEXT NOT NULL,
		age_bucket  TEXT NOT NULL,
		gender      TEXT NOT NULL,
		count       BIGINT NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (event_type, category, time_bucket, geo_cell, age_bucket, gender)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_aggregated_time ON aggregated_events (time_bucket)`,

	`CREATE TABLE IF NOT EXISTS outbound_messages (
		id         TEXT PRIMARY KEY,
		user_id    TEXT REFERENCES users(id) ON DELETE CASCADE,
		channel    TEXT NOT NULL,
		payload    JSONB NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		attempts   INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS mv_refresh_log (
		view_name    TEXT NOT NULL,
		refreshed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// seedRoles inserts the closed role set.
var seedRoles = `INSERT INTO roles (name) VALUES
	('citizen'), ('caregiver'), ('asha'), ('clinician'),
	('district_officer'), ('state_officer'), ('national_admin')
	ON CONFLICT (name) DO NOTHING`

// Migrate creates all tables and seeds static rows.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaDDL {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	if _, err := s.q.ExecContext(ctx, seedRoles); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}
