package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lazypower/solace/internal/apierr"
)

var errRateLimited = errors.New("too many requests")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status and code. Server-side failures get a
// generic message; the detail goes to the log only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.StatusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		msg = "internal error"
		if errors.Is(err, apierr.ErrPersistence) {
			msg = "failed to persist user state"
		}
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
		"code":  apierr.CodeOf(err),
	})
}

// intParam reads a positive-or-absent integer query parameter. Range checks
// beyond parsing are left to the service.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Invalid("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

// list keeps empty results encoding as [] rather than null.
func list[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
