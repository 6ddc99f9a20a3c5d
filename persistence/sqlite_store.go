package persistence

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/arassist/framework"
)

// SQLiteStore persists threads in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	locks KeyedMutex
}

var (
	_ ConversationStore = (*SQLiteStore)(nil)
	_ ThreadLister      = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens/creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (thread_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetState returns the thread's messages ordered by sequence number.
func (s *SQLiteStore) GetState(ctx context.Context, threadID string) ([]framework.Message, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, role, content, created_at FROM messages WHERE thread_id = ? ORDER BY seq`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []framework.Message
	for rows.Next() {
		var (
			m    framework.Message
			role string
			at   time.Time
		)
		if err := rows.Scan(&m.Seq, &m.ID, &role, &m.Content, &at); err != nil {
			return nil, err
		}
		m.Role = framework.Role(role)
		m.Timestamp = at.UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// PutState replaces the thread's rows in one transaction.
func (s *SQLiteStore) PutState(ctx context.Context, threadID string, messages []framework.Message) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	messages = Sequence(messages)
	unlock := s.locks.Lock(threadID)
	defer unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (thread_id, seq, id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range messages {
		if _, err := stmt.ExecContext(ctx, threadID, m.Seq, m.ID, string(m.Role), m.Content, m.Timestamp.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Threads lists thread IDs with at least one message.
func (s *SQLiteStore) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT thread_id FROM messages ORDER BY thread_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
