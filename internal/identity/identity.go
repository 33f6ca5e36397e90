// Package identity resolves the chat session a request belongs to.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/aero-chat/internal/store"
)

const (
	SessionHeaderName = "X-Chat-Session-ID"
	SessionQueryParam = "session_id"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	sessionKnownKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext returns the sanitized session id of the request, or
// "" when none was sent.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionKnown reports whether the request's session exists in the store.
func SessionKnown(ctx context.Context) bool {
	v, _ := ctx.Value(sessionKnownKey).(bool)
	return v
}

// Sanitize returns id when it is a plausible session id, otherwise "".
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// SessionIDFromRequest reads the session header, falling back to the
// session_id query parameter used by websocket clients.
func SessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return Sanitize(sid)
}

// Middleware injects the request's session id and marks it seen.
func Middleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := SessionIDFromRequest(r)
			ctx := context.WithValue(r.Context(), sessionIDKey, sid)

			if sid != "" {
				session, err := repo.GetSession(ctx, sid)
				if err != nil {
					http.Error(w, `{"error":"failed to load session"}`, http.StatusInternalServerError)
					return
				}
				if session != nil {
					ctx = context.WithValue(ctx, sessionKnownKey, true)
					if err := repo.TouchSession(ctx, sid, time.Now()); err != nil {
						slog.Warn("Failed to touch session", "session_id", sid, "error", err)
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
