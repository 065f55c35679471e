package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/capitalize-ai/intake-engine/internal/model"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		channel TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_step TEXT NOT NULL DEFAULT '',
		collected_json TEXT NOT NULL,
		classification TEXT NOT NULL,
		work_item_id TEXT NOT NULL DEFAULT '',
		dup_check_pending INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME NOT NULL,
		timeout_notified INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_thread ON conversations(channel, thread_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_expiry ON conversations(status, expires_at);

	CREATE TABLE IF NOT EXISTS message_claims (
		message_id TEXT PRIMARY KEY,
		claimed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completion_metrics (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		final_status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		classification TEXT NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unrecognized_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		step TEXT NOT NULL,
		text TEXT NOT NULL,
		confidence REAL NOT NULL,
		raw_fallback INTEGER NOT NULL,
		at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const terminalStatuses = `('complete', 'cancelled', 'withdrawn')`

const conversationColumns = `id, user_id, user_name, channel, thread_id, status, current_step,
	collected_json, classification, work_item_id, dup_check_pending, expires_at,
	timeout_notified, created_at, updated_at`

// ActiveByThread implements Store.
func (s *SQLiteStore) ActiveByThread(ctx context.Context, channel, threadID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE channel = ? AND thread_id = ? AND status NOT IN `+terminalStatuses+`
		 ORDER BY created_at DESC LIMIT 1`, channel, threadID)
	return scanConversation(row)
}

// ActiveByUser implements Store.
func (s *SQLiteStore) ActiveByUser(ctx context.Context, userID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = ? AND status NOT IN `+terminalStatuses+`
		 ORDER BY created_at ASC LIMIT 1`, userID)
	return scanConversation(row)
}

// ByID implements Store.
func (s *SQLiteStore) ByID(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Save implements Store with an id-keyed upsert.
func (s *SQLiteStore) Save(ctx context.Context, conv *model.Conversation) error {
	collected, err := json.Marshal(conv.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal collected data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, user_id, user_name, channel, thread_id, status, current_step,
			collected_json, classification, work_item_id, dup_check_pending,
			expires_at, timeout_notified, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_name = excluded.user_name,
			status = excluded.status,
			current_step = excluded.current_step,
			collected_json = excluded.collected_json,
			classification = excluded.classification,
			work_item_id = excluded.work_item_id,
			dup_check_pending = excluded.dup_check_pending,
			expires_at = excluded.expires_at,
			timeout_notified = excluded.timeout_notified,
			updated_at = excluded.updated_at`,
		conv.ID, conv.UserID, conv.UserName, conv.Channel, conv.ThreadID,
		string(conv.Status), conv.Step.String(), string(collected),
		string(conv.Classification), conv.WorkItemID, conv.DupCheckPending,
		conv.ExpiresAt.UTC(), conv.TimeoutNotified,
		conv.CreatedAt.UTC(), conv.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// ClaimMessage implements Store. INSERT OR IGNORE gives claim-once: only
// the instance whose insert lands processes the message.
func (s *SQLiteStore) ClaimMessage(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_claims (message_id, claimed_at) VALUES (?, ?)`,
		messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// NotifyPending implements Store.
func (s *SQLiteStore) NotifyPending(ctx context.Context, now time.Time) ([]*model.Conversation, error) {
	return s.queryConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status NOT IN `+terminalStatuses+`
		   AND expires_at <= ? AND timeout_notified = 0
		 ORDER BY expires_at`, now.UTC())
}

// ReapPending implements Store.
func (s *SQLiteStore) ReapPending(ctx context.Context, now time.Time) ([]*model.Conversation, error) {
	return s.queryConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status NOT IN `+terminalStatuses+`
		   AND expires_at <= ? AND timeout_notified = 1
		 ORDER BY expires_at`, now.UTC())
}

// RecordCompletion implements Store.
func (s *SQLiteStore) RecordCompletion(ctx context.Context, m model.CompletionMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completion_metrics (id, conversation_id, user_id, final_status, duration_ms, classification, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ConversationID, m.UserID, string(m.FinalStatus),
		m.Duration.Milliseconds(), string(m.Classification), m.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record completion metric: %w", err)
	}
	return nil
}

// LogUnrecognized implements Store.
func (s *SQLiteStore) LogUnrecognized(ctx context.Context, t model.UnrecognizedTurn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unrecognized_turns (conversation_id, step, text, confidence, raw_fallback, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ConversationID, t.Step, t.Text, t.Confidence, t.RawFallback, t.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to log unrecognized turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		conv, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row *sql.Row) (*model.Conversation, error) {
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return conv, err
}

func scanConversationRow(row rowScanner) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		status    string
		step      string
		collected string
		class     string
	)
	err := row.Scan(
		&conv.ID, &conv.UserID, &conv.UserName, &conv.Channel, &conv.ThreadID,
		&status, &step, &collected, &class, &conv.WorkItemID,
		&conv.DupCheckPending, &conv.ExpiresAt, &conv.TimeoutNotified,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	conv.Status = model.Status(status)
	conv.Classification = model.Classification(class)

	parsed, err := model.ParseStep(step)
	if err != nil {
		return nil, fmt.Errorf("failed to parse step %q: %w", step, err)
	}
	conv.Step = parsed

	if err := json.Unmarshal([]byte(collected), &conv.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collected data: %w", err)
	}
	conv.Data.Normalize()

	return &conv, nil
}
