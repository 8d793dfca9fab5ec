// Package directory stores the conversation list, seeded message history and
// customer data in an embedded SQLite database.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"supportdesk/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.ConversationStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens dbPath and migrates it. An empty path or ":memory:"
// keeps everything in memory for the life of the store.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := ":memory:"
	if dbPath != "" && dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// One connection: SQLite serialises writers, and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// SetClock replaces the time source used for activity timestamps and display times.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// Seed replaces the whole directory with data in a single transaction.
func (s *SQLiteStore) Seed(ctx context.Context, data *SeedData) error {
	if err := data.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	// Children go with their conversation via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	now := s.now()
	for pos, c := range data.Conversations {
		typing, _ := domain.ParseTyping(string(c.Typing))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, position, name, avatar, last_message, unread, status, ai_handling, last_activity, typing)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, pos, c.Name, c.Avatar, c.LastMessage, c.Unread, string(c.Status), c.IsAIHandling,
			now.Add(-c.LastActivityAgo).UTC(), string(typing),
		); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ID, err)
		}

		for i, tag := range c.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO conversation_tags (conversation_id, seq, tag) VALUES (?, ?, ?)`,
				c.ID, i, string(tag),
			); err != nil {
				return fmt.Errorf("insert tag %s/%s: %w", c.ID, tag, err)
			}
		}

		for i, m := range c.Messages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (conversation_id, seq, id, content, sender, sender_name, timestamp, status, is_escalation)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, i, m.ID, m.Content, string(m.Sender), m.SenderName, m.Timestamp, string(m.Status), m.IsEscalation,
			); err != nil {
				return fmt.Errorf("insert message %s/%s: %w", c.ID, m.ID, err)
			}
		}

		if cu := c.Customer; cu != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO customers (conversation_id, name, email, phone, location, member_since, tier, total_bookings, notes)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, cu.Name, cu.Email, cu.Phone, cu.Location, cu.MemberSince, cu.Tier, cu.TotalBookings, cu.Notes,
			); err != nil {
				return fmt.Errorf("insert customer %s: %w", c.ID, err)
			}
			for i, h := range cu.History {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO customer_history (conversation_id, seq, type, description, date, status)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					c.ID, i, h.Type, h.Description, h.Date, h.Status,
				); err != nil {
					return fmt.Errorf("insert customer history %s/%d: %w", c.ID, i, err)
				}
			}
		}

		if sg := c.Suggestion; sg != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO suggestions (conversation_id, content, confidence) VALUES (?, ?, ?)`,
				c.ID, sg.Content, sg.Confidence,
			); err != nil {
				return fmt.Errorf("insert suggestion %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	s.logger.Info("directory seeded", "conversations", len(data.Conversations))
	return nil
}

const summaryColumns = `id, name, avatar, last_message, unread, status, ai_handling, last_activity`

func (s *SQLiteStore) scanSummary(row interface{ Scan(...any) error }) (domain.ConversationSummary, error) {
	var c domain.ConversationSummary
	var status string
	if err := row.Scan(&c.ID, &c.Name, &c.Avatar, &c.LastMessage, &c.Unread, &status, &c.IsAIHandling, &c.LastActivity); err != nil {
		return c, err
	}
	c.Status = domain.ConversationStatus(status)
	c.Time = DisplayTime(c.LastActivity, s.now())
	return c, nil
}

// ListConversations returns every conversation in seed order.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM conversations ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := []domain.ConversationSummary{}
	for rows.Next() {
		c, err := s.scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.ConversationSummary, error) {
	c, err := s.scanSummary(s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) SetAIHandling(ctx context.Context, id string, aiHandling bool) error {
	return s.updateOne(ctx, id, `UPDATE conversations SET ai_handling = ? WHERE id = ?`, aiHandling, id)
}

// RecordActivity makes lastMessage the list preview and bumps the activity time.
func (s *SQLiteStore) RecordActivity(ctx context.Context, id, lastMessage string) error {
	return s.updateOne(ctx, id,
		`UPDATE conversations SET last_message = ?, last_activity = ? WHERE id = ?`,
		lastMessage, s.now().UTC(), id)
}

func (s *SQLiteStore) updateOne(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Messages returns the seeded history of a conversation, oldest first.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if err := s.exists(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, sender, sender_name, timestamp, status, is_escalation
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var sender, status string
		if err := rows.Scan(&m.ID, &m.Content, &sender, &m.SenderName, &m.Timestamp, &status, &m.IsEscalation); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.Status = domain.DeliveryStatus(status)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Customer(ctx context.Context, conversationID string) (*domain.Customer, error) {
	cu := domain.Customer{ConversationID: conversationID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, email, phone, location, member_since, tier, total_bookings, notes
		 FROM customers WHERE conversation_id = ?`, conversationID,
	).Scan(&cu.Name, &cu.Email, &cu.Phone, &cu.Location, &cu.MemberSince, &cu.Tier, &cu.TotalBookings, &cu.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer for conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", conversationID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, description, date, status FROM customer_history
		 WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query customer history: %w", err)
	}
	defer rows.Close()

	cu.History = []domain.HistoryRecord{}
	for rows.Next() {
		var h domain.HistoryRecord
		if err := rows.Scan(&h.Type, &h.Description, &h.Date, &h.Status); err != nil {
			return nil, fmt.Errorf("scan customer history: %w", err)
		}
		cu.History = append(cu.History, h)
	}
	return &cu, rows.Err()
}

func (s *SQLiteStore) Suggestion(ctx context.Context, conversationID string) (*domain.Suggestion, error) {
	sg := domain.Suggestion{ConversationID: conversationID}
	err := s.db.QueryRowContext(ctx,
		`SELECT content, confidence FROM suggestions WHERE conversation_id = ?`, conversationID,
	).Scan(&sg.Content, &sg.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("suggestion for conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion %s: %w", conversationID, err)
	}
	return &sg, nil
}

func (s *SQLiteStore) ViewDefaults(ctx context.Context, id string) (*domain.ViewDefaults, error) {
	var typing string
	err := s.db.QueryRowContext(ctx, `SELECT typing FROM conversations WHERE id = ?`, id).Scan(&typing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get view defaults %s: %w", id, err)
	}
	t, err := domain.ParseTyping(typing)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM conversation_tags WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	vd := &domain.ViewDefaults{Typing: t, Tags: []domain.Tag{}}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		vd.Tags = append(vd.Tags, domain.Tag(tag))
	}
	return vd, rows.Err()
}

func (s *SQLiteStore) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
