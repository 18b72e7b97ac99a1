// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat session/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so they apply to every pooled connection:
	// WAL for concurrent readers, busy_timeout so a second in-process
	// writer waits instead of failing with SQLITE_BUSY.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			assigned_admin_id TEXT,
			status            TEXT NOT NULL,
			priority          TEXT NOT NULL DEFAULT 'normal',
			department        TEXT NOT NULL,
			subject           TEXT,
			started_at        TEXT NOT NULL,
			last_activity_at  TEXT NOT NULL,

			CHECK (status IN ('waiting', 'active', 'ended')),
			CHECK (priority IN ('low', 'normal', 'high'))
		);

		-- At most one open session per user. The partial index makes the
		-- invariant hold at the storage layer, not just in process memory.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_user
			ON chat_sessions(user_id) WHERE status IN ('waiting', 'active');

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON chat_sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_activity ON chat_sessions(last_activity_at);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			sender_id     TEXT NOT NULL,
			is_from_admin INTEGER NOT NULL DEFAULT 0,
			message       TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON chat_messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new chat session. Returns ErrSessionConflict if the
// user already has an open session (enforced by the partial unique index).
func (s *SQLiteStore) CreateSession(ctx context.Context, session *ChatSession) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, assigned_admin_id, status, priority, department, subject, started_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.AssignedAdminID,
		string(session.Status),
		session.Priority,
		session.Department,
		session.Subject,
		session.StartedAt.UTC().Format(time.RFC3339Nano),
		session.LastActivityAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// Check for UNIQUE constraint violation on the open-session index
		if isConstraintViolation(err) {
			return ErrSessionConflict
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "user_id", session.UserID, "department", session.Department)
	return nil
}

// GetSession retrieves a session by id
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	query := sessionSelect + ` WHERE id = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, query, id))
}

// GetOpenSessionForUser returns the user's waiting or active session, or
// ErrNotFound if they have none.
func (s *SQLiteStore) GetOpenSessionForUser(ctx context.Context, userID string) (*ChatSession, error) {
	query := sessionSelect + ` WHERE user_id = ? AND status IN ('waiting', 'active')`
	return s.scanSession(s.db.QueryRowContext(ctx, query, userID))
}

// TouchSession advances last_activity_at. The update is monotonic: an older
// timestamp never overwrites a newer one.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE chat_sessions
		SET last_activity_at = ?
		WHERE id = ? AND last_activity_at < ?
	`

	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, query, ts, id, ts)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// ClaimSession atomically assigns an admin to a waiting session. The
// conditional update is the compare-and-set: exactly one concurrent claim
// observes a row change, every other claim gets ErrAlreadyAssigned.
func (s *SQLiteStore) ClaimSession(ctx context.Context, id, adminID string) error {
	query := `
		UPDATE chat_sessions
		SET assigned_admin_id = ?, status = 'active', last_activity_at = ?
		WHERE id = ? AND status = 'waiting' AND assigned_admin_id IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, adminID, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("claiming session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking claim result: %w", err)
	}
	if rows == 0 {
		// Distinguish a lost race from a session that never existed
		existing, getErr := s.GetSession(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.Status == SessionEnded {
			return ErrSessionEnded
		}
		return ErrAlreadyAssigned
	}

	s.logger.Debug("session claimed", "id", id, "admin_id", adminID)
	return nil
}

// EndSession transitions a session to ended. Ending an already-ended session
// is a no-op so duplicate end requests are harmless.
func (s *SQLiteStore) EndSession(ctx context.Context, id string) error {
	query := `
		UPDATE chat_sessions
		SET status = 'ended'
		WHERE id = ? AND status IN ('waiting', 'active')
	`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking end result: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return getErr
		}
		return nil // already ended
	}

	s.logger.Debug("session ended", "id", id)
	return nil
}

// ListWaitingSessions returns unclaimed sessions for the admin queue, oldest
// first within priority.
func (s *SQLiteStore) ListWaitingSessions(ctx context.Context, limit int) ([]*ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := sessionSelect + `
		WHERE status = 'waiting'
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, started_at
		LIMIT ?
	`

	return s.querySessions(ctx, query, limit)
}

// ListStaleSessions returns open sessions with no activity since olderThan,
// used by the idle-timeout sweep.
func (s *SQLiteStore) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]*ChatSession, error) {
	query := sessionSelect + `
		WHERE status IN ('waiting', 'active') AND last_activity_at < ?
	`

	return s.querySessions(ctx, query, olderThan.UTC().Format(time.RFC3339Nano))
}

// InsertMessage persists a chat message. The session must exist and not be
// ended at write time.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *ChatMessage) error {
	session, err := s.GetSession(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	if session.Status == SessionEnded {
		return ErrSessionEnded
	}

	query := `
		INSERT INTO chat_messages (id, session_id, sender_id, is_from_admin, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.SenderID,
		msg.IsFromAdmin,
		msg.Message,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// GetSessionMessages returns a session's messages in insertion order.
// Ordering by rowid rather than created_at keeps same-nanosecond writes
// in the order they were accepted.
func (s *SQLiteStore) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, session_id, sender_id, is_from_admin, message, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY rowid
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.SenderID, &msg.IsFromAdmin, &msg.Message, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

const sessionSelect = `
	SELECT id, user_id, assigned_admin_id, status, priority, department, subject, started_at, last_activity_at
	FROM chat_sessions
`

// scanSession scans a single session row, mapping sql.ErrNoRows to ErrNotFound
func (s *SQLiteStore) scanSession(row *sql.Row) (*ChatSession, error) {
	var session ChatSession
	var status string
	var subject sql.NullString
	var startedAtStr, lastActivityStr string

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.AssignedAdminID,
		&status,
		&session.Priority,
		&session.Department,
		&subject,
		&startedAtStr,
		&lastActivityStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.Status = SessionStatus(status)
	session.Subject = subject.String

	session.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	session.LastActivityAt, err = time.Parse(time.RFC3339Nano, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	return &session, nil
}

// querySessions runs a multi-row session query
func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		var session ChatSession
		var status string
		var subject sql.NullString
		var startedAtStr, lastActivityStr string

		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.AssignedAdminID,
			&status,
			&session.Priority,
			&session.Department,
			&subject,
			&startedAtStr,
			&lastActivityStr,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}

		session.Status = SessionStatus(status)
		session.Subject = subject.String

		session.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		session.LastActivityAt, err = time.Parse(time.RFC3339Nano, lastActivityStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_activity_at: %w", err)
		}

		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
