package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sahay/backend/internal/core"
)

// ============================================================================
// USERS / PROFILES / ROLES / TOKENS
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, u.IsActive, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, username, password_hash, is_active, created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, username, password_hash, is_active, created_at FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// DeleteUser implements right-to-erasure; owned rows cascade, analytics rows
// are de-identified already and retained.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *core.Profile) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, full_name, age, sex, pincode, client_time, client_event_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			age = EXCLUDED.age,
			sex = EXCLUDED.sex,
			pincode = EXCLUDED.pincode,
			client_time = EXCLUDED.client_time,
			client_event_id = EXCLUDED.client_event_id`,
		p.ID, p.UserID, p.FullName, p.Age, p.Sex, p.Pincode, p.ClientTime, p.ClientEventID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*core.Profile, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, user_id, full_name, age, sex, pincode, client_time, client_event_id, created_at
		 FROM profiles WHERE user_id = $1`, userID)
	var p core.Profile
	err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Age, &p.Sex, &p.Pincode,
		&p.ClientTime, &p.ClientEventID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

func (s *Store) AddUserRole(ctx context.Context, id, userID string, role core.RoleName) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO user_roles (id, user_id, role_name) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, role_name) DO NOTHING`,
		id, userID, string(role))
	if err != nil {
		return fmt.Errorf("add user role: %w", err)
	}
	return nil
}

func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]core.RoleName, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT role_name FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get user roles: %w", err)
	}
	defer rows.Close()

	var roles []core.RoleName
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, core.RoleName(r))
	}
	return roles, rows.Err()
}

func (s *Store) CreateAuthToken(ctx context.Context, t *core.AuthToken) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, user_id, created_at) VALUES ($1, $2, $3)`,
		t.Token, t.UserID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create auth token: %w", err)
	}
	return nil
}

func (s *Store) GetAuthToken(ctx context.Context, token string) (*core.AuthToken, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, revoked_at FROM auth_tokens WHERE token = $1`, token)
	var t core.AuthToken
	err := row.Scan(&t.Token, &t.UserID, &t.CreatedAt, &t.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth token: %w", err)
	}
	return &t, nil
}

func (s *Store) RevokeAuthToken(ctx context.Context, token string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE auth_tokens SET revoked_at = $2 WHERE token = $1 AND revoked_at IS NULL`,
		token, at)
	if err != nil {
		return fmt.Errorf("revoke auth token: %w", err)
	}
	return nil
}
