package handlers

import (
	"net/http"

	"github.com/sahay/backend/internal/auth"
	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account with the citizen role.
func Register(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		u, err := svc.Register(r.Context(), req.Username, req.Password)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a bearer token.
func Login(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token, u, err := svc.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": token,
			"user":  u,
		})
	}
}

// Logout revokes the caller's token.
func Logout(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if err := svc.Logout(r.Context(), token); err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	}
}

// Me returns the authenticated user and roles.
func Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := middleware.IdentityFrom(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user":  id.User,
			"roles": id.Roles,
		})
	}
}

type grantRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// GrantRole assigns a role to a user. National admin only.
func GrantRole(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantRoleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.GrantRole(r.Context(), req.UserID, core.RoleName(req.Role)); err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
	}
}
