package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		section_id TEXT NOT NULL,
		feedback_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id, id);

	CREATE TABLE IF NOT EXISTS documents (
		stored_name TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		uploaded_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (session_id, created_at, last_seen_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, session.ID, session.CreatedAt.Unix(), session.LastSeenAt.Unix())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT session_id, created_at, last_seen_at FROM sessions WHERE session_id = ?`

	var session domain.Session
	var createdAt, lastSeen int64
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&session.ID, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastSeenAt = time.Unix(lastSeen, 0)
	return &session, nil
}

// TouchSession updates the last_seen_at timestamp of a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	query := `UPDATE sessions SET last_seen_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// AppendMessage stores one turn of a session's conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, entry domain.HistoryEntry) error {
	query := `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	return retryBusy(ctx, "insert message", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, string(entry.Role), entry.Content, entry.Timestamp.Unix())
		return err
	})
}

// History returns the stored turns of a session, oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	query := `SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var entry domain.HistoryEntry
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &entry.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Role = domain.Role(role)
		entry.Timestamp = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// ClearHistory deletes the stored turns of a session.
func (s *SQLiteStore) ClearHistory(ctx context.Context, sessionID string) (int64, error) {
	var deleted int64
	err := retryBusy(ctx, "clear history", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// SaveFeedback stores a rating and sets its ID.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error {
	query := `
		INSERT INTO feedback (session_id, message_id, section_id, feedback_type, description, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	return retryBusy(ctx, "insert feedback", func() error {
		result, err := s.db.ExecContext(ctx, query,
			rec.SessionID, rec.MessageID, rec.SectionID,
			string(rec.Polarity), rec.Comment, rec.Content,
			rec.Timestamp.Unix(),
		)
		if err != nil {
			return err
		}
		rec.ID, err = result.LastInsertId()
		return err
	})
}

// ListFeedback returns the ratings of a session, oldest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, sessionID string) ([]domain.FeedbackRecord, error) {
	query := `
		SELECT id, session_id, message_id, section_id, feedback_type, description, content, created_at
		FROM feedback WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close feedback rows", "error", closeErr)
		}
	}()

	records := []domain.FeedbackRecord{}
	for rows.Next() {
		var rec domain.FeedbackRecord
		var polarity string
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.MessageID, &rec.SectionID,
			&polarity, &rec.Comment, &rec.Content, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		rec.Polarity = domain.Polarity(polarity)
		rec.Timestamp = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return records, nil
}

// AddDocument records an uploaded document.
func (s *SQLiteStore) AddDocument(ctx context.Context, doc domain.Document) error {
	query := `INSERT INTO documents (stored_name, name, size, uploaded_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, doc.StoredName, doc.Name, doc.Size, doc.UploadedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns the document library, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	query := `SELECT stored_name, name, size, uploaded_at FROM documents ORDER BY uploaded_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "error", closeErr)
		}
	}()

	docs := []domain.Document{}
	for rows.Next() {
		var doc domain.Document
		var uploadedAt int64
		if err := rows.Scan(&doc.StoredName, &doc.Name, &doc.Size, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		doc.UploadedAt = time.Unix(uploadedAt, 0)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// ExpiredSessions returns the ids of sessions idle longer than ttl.
func (s *SQLiteStore) ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// CleanupExpiredSessions removes sessions idle longer than ttl together
// with their history and feedback.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var deleted int64

	err := retryBusy(ctx, "cleanup expired sessions", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		expired := `SELECT session_id FROM sessions WHERE last_seen_at < ?`
		for _, table := range []string{"messages", "feedback"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id IN (`+expired+`)`, threshold); err != nil {
				return err
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return deleted, err
}
