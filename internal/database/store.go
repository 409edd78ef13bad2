package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

// Store implements interfaces.HistoryStore on SQLite
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation // single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Config holds database connection settings
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// NewStore opens the database, ensures the schema, and starts the
// single-writer goroutine
// ARCHITECTURAL DISCOVERY: one writer goroutine sidesteps SQLite write
// contention; reads stay concurrent through the pool
func NewStore(cfg *Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	store := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	store.wg.Add(1)
	go store.writeLoop()

	return store, nil
}

// writeLoop processes all writes in one goroutine, retrying once after a
// short delay on failure
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("database store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return fmt.Errorf("database store is shutting down")
	}
}

// StoreMessage persists a message
func (s *Store) StoreMessage(ctx context.Context, message *types.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	reactions, err := json.Marshal(message.Reactions)
	if err != nil {
		return fmt.Errorf("failed to marshal reactions: %w", err)
	}

	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO messages (id, thread_id, sender_id, sender_name, content, reactions, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			message.ID, message.ThreadID, message.SenderID, message.SenderName,
			message.Content, string(reactions), message.CreatedAt.UnixMilli())
		return err
	})
}

// GetMessage retrieves a single message by ID
func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, sender_id, sender_name, content, reactions, created_at
		FROM messages WHERE id = ?`, messageID)

	message, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return message, nil
}

// UpdateReactions replaces a message's reaction document
func (s *Store) UpdateReactions(ctx context.Context, messageID string, reactions map[string][]string) error {
	data, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("failed to marshal reactions: %w", err)
	}

	return s.executeWrite(func(db *sql.DB) error {
		result, err := db.Exec(`UPDATE messages SET reactions = ? WHERE id = ?`, string(data), messageID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return interfaces.ErrMessageNotFound
		}
		return nil
	})
}

// ListThreadMessages returns up to limit messages older than before for a
// thread, newest first. before is a unix-millisecond cursor; zero means now
// FUNCTIONAL DISCOVERY: cursor pagination on created_at avoids OFFSET scans
// as thread history grows
func (s *Store) ListThreadMessages(ctx context.Context, threadID string, before int64, limit int) ([]*types.Message, error) {
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, sender_id, sender_name, content, reactions, created_at
		FROM messages
		WHERE thread_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, threadID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*types.Message, error) {
	var message types.Message
	var reactions string
	var createdAt int64

	if err := row.Scan(&message.ID, &message.ThreadID, &message.SenderID,
		&message.SenderName, &message.Content, &reactions, &createdAt); err != nil {
		return nil, err
	}

	if reactions != "" && reactions != "null" {
		if err := json.Unmarshal([]byte(reactions), &message.Reactions); err != nil {
			return nil, fmt.Errorf("corrupt reactions document: %w", err)
		}
	}
	message.CreatedAt = time.UnixMilli(createdAt)

	return &message, nil
}

// HealthCheck verifies database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close shuts down the write loop and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	return s.db.Close()
}
