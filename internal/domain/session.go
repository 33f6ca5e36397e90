// Package domain contains core domain types for the aero-chat application.
package domain

import (
	"time"
)

// Session is one chat session. Messages and feedback are scoped to it.
type Session struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IdleFor returns how long the session has been inactive at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && s.IdleFor(now) > ttl
}
