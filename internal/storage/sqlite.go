package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/Hierifer/vanilla/internal/model"
	"github.com/Hierifer/vanilla/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AddSubscription inserts the destination if not already present.
func (s *SQLite) AddSubscription(ctx context.Context, chatID string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (chat_id, created_at) VALUES (?, ?)`,
		chatID, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSubscriptions returns all subscribed destinations in insertion order.
func (s *SQLite) ListSubscriptions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM subscriptions ORDER BY created_at, chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, id)
	}
	return subs, rows.Err()
}

// AppendChatLog inserts a transcript entry and populates its ID.
func (s *SQLite) AppendChatLog(ctx context.Context, e *model.ChatLogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_log (direction, chat_id, message_id, ts, sender, text, status, error_code, error_msg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Direction), e.ChatID, e.MessageID, ts.UTC().Format(timeLayout),
		e.Sender, e.Text, e.Status, e.ErrorCode, e.ErrorMsg,
	)
	if err != nil {
		return fmt.Errorf("insert chat log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// ChatHistory returns the destination's entries from since onward, oldest
// first. Rows that fail to scan are skipped, not fatal.
func (s *SQLite) ChatHistory(ctx context.Context, chatID string, since time.Time) ([]model.ChatLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, chat_id, message_id, ts, sender, text, status, error_code, error_msg
		 FROM chat_log
		 WHERE chat_id = ? AND ts >= ?
		 ORDER BY ts, id`,
		chatID, since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query chat log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ChatLogEntry
	for rows.Next() {
		e, err := scanChatLog(rows)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanChatLog(rows *sql.Rows) (model.ChatLogEntry, error) {
	var e model.ChatLogEntry
	var direction, tsStr string
	var messageID, sender, status, errorMsg sql.NullString
	var errorCode sql.NullInt64
	err := rows.Scan(&e.ID, &direction, &e.ChatID, &messageID, &tsStr,
		&sender, &e.Text, &status, &errorCode, &errorMsg)
	if err != nil {
		return e, fmt.Errorf("scan chat log: %w", err)
	}
	e.Direction = model.Direction(direction)
	e.MessageID = messageID.String
	e.Sender = sender.String
	e.Status = status.String
	e.ErrorCode = int(errorCode.Int64)
	e.ErrorMsg = errorMsg.String
	e.Timestamp, _ = time.Parse(timeLayout, tsStr)
	return e, nil
}
