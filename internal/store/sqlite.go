// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Enforces one conversation per pair with a UNIQUE index and creates its schema on open

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

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

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
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
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			profile_pic   TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			pair_key   TEXT NOT NULL,
			sender     TEXT NOT NULL,
			receiver   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_seq   INTEGER NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(pair_key);
		CREATE INDEX IF NOT EXISTS idx_conversations_sender ON conversations(sender);
		CREATE INDEX IF NOT EXISTS idx_conversations_receiver ON conversations(receiver);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			author_id       TEXT NOT NULL,
			text            TEXT NOT NULL DEFAULT '',
			image_url       TEXT NOT NULL DEFAULT '',
			video_url       TEXT NOT NULL DEFAULT '',
			seen            INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_unseen
			ON messages(conversation_id, author_id, seen);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// CreateUser inserts a new user. Returns ErrDuplicateUser if the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, profile_pic, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		user.ID,
		user.Name,
		user.Email,
		user.ProfilePic,
		user.PasswordHash,
		user.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, profile_pic, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

// GetUserByEmail retrieves a user by email address.
// Returns ErrNotFound if no user has that email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, profile_pic, password_hash, created_at
		FROM users WHERE email = ?
	`, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.ProfilePic, &user.PasswordHash, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// CreateConversation inserts a conversation for its participant pair.
// If the pair already has a conversation it returns ErrDuplicateConversation;
// the UNIQUE index on pair_key is what keeps concurrent creators from both succeeding.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.PairKey == "" {
		conv.PairKey = PairKey(conv.Sender, conv.Receiver)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, sender, receiver, created_at, updated_at, last_seq)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`,
		conv.ID,
		conv.PairKey,
		conv.Sender,
		conv.Receiver,
		conv.CreatedAt.UTC().Format(timeLayout),
		conv.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "pair_key", conv.PairKey)
	return nil
}

const conversationColumns = `id, pair_key, sender, receiver, created_at, updated_at, last_seq`

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationByPair retrieves the conversation between a and b in either order.
// Returns ErrNotFound if the pair has no conversation yet.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key = ?`, PairKey(a, b))
	return scanConversation(row)
}

// ListConversationsFor returns every conversation involving identity,
// most recently active first.
func (s *SQLiteStore) ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE sender = ? OR receiver = ?
		ORDER BY last_seq DESC, updated_at DESC, id
	`, identity, identity)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string
	err := row.Scan(
		&conv.ID,
		&conv.PairKey,
		&conv.Sender,
		&conv.Receiver,
		&createdAtStr,
		&updatedAtStr,
		&conv.LastSeq,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// AppendMessage persists msg at the end of its conversation and bumps the
// conversation's updated_at and last_seq in the same transaction.
// The insert comes first so the transaction takes the write lock immediately.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, author_id, text, image_url, video_url, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.AuthorID,
		msg.Text,
		msg.ImageURL,
		msg.VideoURL,
		msg.Seen,
		msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message seq: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ?, last_seq = ? WHERE id = ?
	`, msg.CreatedAt.UTC().Format(timeLayout), seq, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.Seq = seq
	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", msg.ConversationID, "seq", seq)
	return nil
}

const messageColumns = `seq, id, conversation_id, author_id, text, image_url, video_url, seen, created_at`

// ListMessages returns all messages of a conversation in append order
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// LastMessage returns the most recently appended message.
// Returns ErrNotFound if the conversation has no messages.
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, conversationID)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var createdAtStr string
	err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.ConversationID,
		&msg.AuthorID,
		&msg.Text,
		&msg.ImageURL,
		&msg.VideoURL,
		&msg.Seen,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}

// CountUnseen counts messages in the conversation authored by authorID that are not yet seen
func (s *SQLiteStore) CountUnseen(ctx context.Context, conversationID, authorID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND author_id = ? AND seen = 0
	`, conversationID, authorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unseen messages: %w", err)
	}
	return n, nil
}

// MarkSeen flips seen on every unseen message in the conversation authored by
// authorID and returns how many rows changed. Zero is a valid result.
func (s *SQLiteStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = 1
		WHERE conversation_id = ? AND author_id = ? AND seen = 0
	`, conversationID, authorID)
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
