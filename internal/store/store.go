// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

// Repository defines the interface for persisting chat sessions, their
// history and feedback, and the document library.
type Repository interface {
	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id. It returns nil, nil when the
	// session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// TouchSession updates the last_seen_at timestamp of a session.
	TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error

	// AppendMessage stores one turn of a session's conversation.
	AppendMessage(ctx context.Context, sessionID string, entry domain.HistoryEntry) error

	// History returns the stored turns of a session, oldest first.
	History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error)

	// ClearHistory deletes the stored turns of a session.
	ClearHistory(ctx context.Context, sessionID string) (int64, error)

	// SaveFeedback stores a rating and sets its ID.
	SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error

	// ListFeedback returns the ratings of a session, oldest first.
	ListFeedback(ctx context.Context, sessionID string) ([]domain.FeedbackRecord, error)

	// AddDocument records an uploaded document.
	AddDocument(ctx context.Context, doc domain.Document) error

	// ListDocuments returns the document library, newest first.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// ExpiredSessions returns the ids of sessions idle longer than ttl.
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// CleanupExpiredSessions removes sessions idle longer than ttl together
	// with their history and feedback.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
