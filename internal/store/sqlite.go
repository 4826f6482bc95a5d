package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/baun-edu/baun-server/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %v", ErrStorageUnavailable, err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping database: %v", ErrStorageUnavailable, err)
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
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		user_role TEXT,
		user_id TEXT,
		messages_json TEXT NOT NULL,
		last_updated INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_role ON conversations(user_role);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(last_updated);

	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learner_profiles (
		user_id TEXT PRIMARY KEY,
		profile_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
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
	return s.db.Close()
}

// storedMessage is the on-disk message shape. Its status field uses the legacy
// external representation (sending/sent/error); this codec is the single
// translation boundary to the canonical enum.
type storedMessage struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Timestamp   string   `json:"timestamp"`
	Status      string   `json:"status,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func encodeStatus(st domain.MessageStatus) string {
	switch st {
	case domain.StatusPending:
		return "sending"
	case domain.StatusError:
		return "error"
	default:
		return "sent"
	}
}

func decodeStatus(st string) domain.MessageStatus {
	switch st {
	case "sending":
		return domain.StatusPending
	case "error":
		return domain.StatusError
	default:
		return domain.StatusComplete
	}
}

func encodeMessages(msgs []domain.Message) (string, error) {
	out := make([]storedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, storedMessage{
			ID:          m.ID,
			Role:        string(m.Role),
			Content:     m.Content,
			Timestamp:   m.Timestamp.UTC().Format(time.RFC3339Nano),
			Status:      encodeStatus(m.Status),
			Attachments: m.Attachments,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}
	return string(data), nil
}

func decodeMessages(raw string) ([]domain.Message, error) {
	var stored []storedMessage
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	out := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
		if err != nil {
			ts = time.Time{}
		}
		out = append(out, domain.Message{
			ID:          m.ID,
			Role:        domain.MessageRole(m.Role),
			Content:     m.Content,
			Timestamp:   ts,
			Status:      decodeStatus(m.Status),
			Attachments: m.Attachments,
		})
	}
	return out, nil
}

// PutConversation upserts a conversation record by id.
func (s *SQLiteStore) PutConversation(ctx context.Context, conv *domain.Conversation) error {
	messagesJSON, err := encodeMessages(conv.Messages)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, title, user_role, user_id, messages_json, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			user_role = excluded.user_role,
			user_id = excluded.user_id,
			messages_json = excluded.messages_json,
			last_updated = excluded.last_updated`

	err = s.execWithRetry(ctx, query,
		conv.ID, conv.Title, string(conv.UserRole), conv.UserID,
		messagesJSON, conv.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: put conversation %s: %v", ErrStorageUnavailable, conv.ID, err)
	}
	return nil
}

// GetAllConversations returns every stored conversation.
func (s *SQLiteStore) GetAllConversations(ctx context.Context) ([]*domain.Conversation, error) {
	query := `SELECT id, title, user_role, user_id, messages_json, last_updated FROM conversations`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*domain.Conversation{}
	for rows.Next() {
		var conv domain.Conversation
		var role, userID sql.NullString
		var messagesJSON string
		var lastUpdated int64

		if err := rows.Scan(&conv.ID, &conv.Title, &role, &userID, &messagesJSON, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}

		conv.UserRole = domain.Role(role.String)
		conv.UserID = userID.String
		conv.LastUpdated = time.Unix(0, lastUpdated)

		msgs, err := decodeMessages(messagesJSON)
		if err != nil {
			// A record whose transcript cannot be decoded is skipped rather
			// than failing the whole load.
			slog.Warn("Skipping conversation with undecodable transcript", "id", conv.ID, "error", err)
			continue
		}
		conv.Messages = msgs
		conversations = append(conversations, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// DeleteConversation removes one record. Absent ids are a no-op.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	if err := s.execWithRetry(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete conversation %s: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// DeleteConversationsMissingRole purges records whose user_role is absent or
// not a known role. Run at startup.
func (s *SQLiteStore) DeleteConversationsMissingRole(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_role IS NULL OR user_role NOT IN (?, ?)`,
		string(domain.RoleStudent), string(domain.RoleTeacher))
	if err != nil {
		return 0, fmt.Errorf("purge roleless conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetPreference returns the scalar stored under key, or "" when absent.
func (s *SQLiteStore) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query preference %s: %w", key, err)
	}
	return value, nil
}

// SetPreference upserts a scalar preference.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if err := s.execWithRetry(ctx, query, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("%w: set preference %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

// DeletePreference removes a preference. Absent keys are a no-op.
func (s *SQLiteStore) DeletePreference(ctx context.Context, key string) error {
	if err := s.execWithRetry(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete preference %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

// GetLearnerProfile retrieves the profile for an identity, or nil when absent.
func (s *SQLiteStore) GetLearnerProfile(ctx context.Context, userID string) (*domain.LearnerProfile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_json FROM learner_profiles WHERE user_id = ?`, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query learner profile: %w", err)
	}

	var profile domain.LearnerProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, fmt.Errorf("unmarshal learner profile: %w", err)
	}
	if profile.Topics == nil {
		profile.Topics = make(map[string]int)
	}
	return &profile, nil
}

// SaveLearnerProfile upserts a learner profile.
func (s *SQLiteStore) SaveLearnerProfile(ctx context.Context, profile *domain.LearnerProfile) error {
	profile.LastUpdated = time.Now()
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal learner profile: %w", err)
	}

	query := `
		INSERT INTO learner_profiles (user_id, profile_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET profile_json = excluded.profile_json, updated_at = excluded.updated_at`
	if err := s.execWithRetry(ctx, query, profile.UserID, string(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("%w: save learner profile: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// execWithRetry executes a write with exponential backoff to ride out
// SQLITE_BUSY while another connection holds the write lock.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !isBusyError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite write busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
