// Package storage persists completed conversations and in-flight drafts.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/models"
)

// SQLConfig holds the conversation database settings
type SQLConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConversationStore keeps finished conversation records in SQLite
type ConversationStore struct {
	db     *sql.DB
	config SQLConfig
}

// OpenConversationStore opens (and creates if needed) the conversation database
func OpenConversationStore(config SQLConfig) (*ConversationStore, error) {
	path := expandPath(config.Path)

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	db.SetMaxIdleConns(config.MaxIdleConns)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	store := &ConversationStore{db: db, config: config}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the conversations table
func (s *ConversationStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		time_spent INTEGER NOT NULL DEFAULT 0,
		chat_log TEXT NOT NULL,
		message_type_log TEXT NOT NULL,
		scores_breakdown TEXT,
		brand TEXT NOT NULL,
		problem_type TEXT NOT NULL,
		think_level TEXT NOT NULL,
		feel_level TEXT NOT NULL,
		endpoint_type TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_email ON conversations(email);
	CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a record and returns its ID. CreatedAt is set if zero.
func (s *ConversationStore) Create(ctx context.Context, rec *models.ConversationRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	chatLog, err := json.Marshal(rec.ChatLog)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal chat log: %w", err)
	}
	typeLog, err := json.Marshal(rec.MessageTypeLog)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message type log: %w", err)
	}
	var scores sql.NullString
	if len(rec.ScoresBreakdown) > 0 {
		raw, err := json.Marshal(rec.ScoresBreakdown)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal scores: %w", err)
		}
		scores = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO conversations (
			email, time_spent, chat_log, message_type_log, scores_breakdown,
			brand, problem_type, think_level, feel_level, endpoint_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.Email,
		rec.TimeSpentSeconds,
		string(chatLog),
		string(typeLog),
		scores,
		rec.Brand,
		rec.ProblemType,
		rec.ThinkLevel,
		rec.FeelLevel,
		rec.EndpointType,
		rec.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read conversation id: %w", err)
	}
	rec.ID = id
	return id, nil
}

const selectColumns = `SELECT id, email, time_spent, chat_log, message_type_log, scores_breakdown,
	brand, problem_type, think_level, feel_level, endpoint_type, created_at FROM conversations`

// Get loads one record by ID
func (s *ConversationStore) Get(ctx context.Context, id int64) (*models.ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, cerrors.NewNotFound("conversation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %d: %w", id, err)
	}
	return rec, nil
}

// ListByEmail returns the newest records for email, at most limit
func (s *ConversationStore) ListByEmail(ctx context.Context, email string, limit int) ([]*models.ConversationRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+" WHERE email = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var records []*models.ConversationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records
func (s *ConversationStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

// CloseIdle drops every idle connection, then restores the idle limit
func (s *ConversationStore) CloseIdle() error {
	s.db.SetMaxIdleConns(0)
	s.db.SetMaxIdleConns(s.config.MaxIdleConns)
	return nil
}

// Ping checks the database
func (s *ConversationStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.ConversationRecord, error) {
	var (
		rec     models.ConversationRecord
		chatLog string
		typeLog string
		scores  sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.Email,
		&rec.TimeSpentSeconds,
		&chatLog,
		&typeLog,
		&scores,
		&rec.Brand,
		&rec.ProblemType,
		&rec.ThinkLevel,
		&rec.FeelLevel,
		&rec.EndpointType,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(chatLog), &rec.ChatLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat log: %w", err)
	}
	if err := json.Unmarshal([]byte(typeLog), &rec.MessageTypeLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message type log: %w", err)
	}
	if scores.Valid && scores.String != "" {
		if err := json.Unmarshal([]byte(scores.String), &rec.ScoresBreakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
		}
	}
	return &rec, nil
}

// expandPath expands a leading ~/ to the home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
