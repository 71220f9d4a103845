package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

type contextKey string

const (
	callerIDKey   contextKey = "callerID"
	callerRoleKey contextKey = "callerRole"
)

// CallerIDFromContext retrieves the caller identity set by InternalAuth from
// the request context, or "" if the request was never authenticated (e.g.
// in development mode with no secret configured).
func CallerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerIDKey).(string)
	return id
}

// WithCallerID returns a new context with the given caller id set. Useful
// for testing handlers that depend on InternalAuth having run.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

// CallerRoleFromContext retrieves the caller role set by InternalAuth from
// the X-Caller-Role header, or "" if absent — rbac.ScopeFor treats an absent
// role as unrestricted, the same as a system role.
func CallerRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(callerRoleKey).(string)
	return role
}

// WithCallerRole returns a new context with the given caller role set.
// Useful for testing handlers that depend on InternalAuth having run.
func WithCallerRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, callerRoleKey, role)
}

// InternalAuth returns middleware enforcing a shared-secret service-to-service
// token (X-Internal-Auth header), the access control this module exposes:
// there is no per-end-user identity, only trusted callers of the ingestion
// API (§6). An empty secret disables the check (development mode — Config
// already refuses to start with an empty secret outside development).
func InternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("X-Internal-Auth")
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid or missing internal auth token")
				return
			}

			ctx := context.WithValue(r.Context(), callerIDKey, r.Header.Get("X-Caller-ID"))
			ctx = context.WithValue(ctx, callerRoleKey, r.Header.Get("X-Caller-Role"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
