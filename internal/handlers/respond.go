// Package handlers contains the HTTP endpoints. Each handler is a thin
// constructor closing over its service; validation and authorization live in
// the services, handlers only translate between HTTP and the domain.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sahay/backend/internal/core"
	"github.com/sahay/backend/internal/middleware"
)

// maxBodyBytes caps JSON request bodies at 1 MiB. Evidence uploads have
// their own multipart limit.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, core.Wrap(core.KindValidation, "malformed request body", err))
		return false
	}
	return true
}

// queryTime parses an RFC 3339 query parameter, zero when absent.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, core.Ef(core.KindValidation, "%s must be RFC 3339", name)
	}
	return t, nil
}

// clientIP strips the port from RemoteAddr; proxies are expected to rewrite
// RemoteAddr before the request reaches the service.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
