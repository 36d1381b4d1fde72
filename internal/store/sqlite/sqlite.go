package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/chatgate/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate applies the schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, avatar, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (id, name, email, avatar, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, query, id, name, email, avatar, passwordHash, s.now()); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("insert user: %w", store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, name, email, avatar, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `
		SELECT id, name, email, avatar, password_hash, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Avatar,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) getProfile(ctx context.Context, q querier, id string) (*store.Profile, error) {
	query := `SELECT id, name, email, avatar FROM users WHERE id = ?`
	var p store.Profile
	if err := q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Email, &p.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return &p, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and fills in its ID and CreatedAt.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	id := uuid.NewString()
	now := s.now()
	if _, err := s.db.ExecContext(ctx, query, id, msg.ChatID, msg.SenderID, msg.Content, now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// GetMessage retrieves a message with sender and chat (with members) populated.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		       u.id, u.name, u.email, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`
	var (
		msg    store.Message
		sender store.Profile
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
		&sender.ID, &sender.Name, &sender.Email, &sender.Avatar,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	msg.Sender = &sender

	chat, err := s.GetChat(ctx, msg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("populate chat: %w", err)
	}
	msg.Chat = chat

	return &msg, nil
}

// FindMessagesByChat lists a chat's messages oldest first, sender and chat populated.
func (s *SQLiteStore) FindMessagesByChat(ctx context.Context, chatID string) ([]*store.Message, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		       u.id, u.name, u.email, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var (
			msg    store.Message
			sender store.Profile
		)
		if err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
			&sender.ID, &sender.Name, &sender.Email, &sender.Avatar,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = &sender
		msg.Chat = chat
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// ==== ChatStore implementation ====

// CreateChat creates a chat with its members in one transaction.
// One-to-one chats are deduplicated by their direct key.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat store.NewChat) (*store.Chat, error) {
	var directKey *string
	if !chat.IsGroup {
		if len(chat.Members) != 2 {
			return nil, fmt.Errorf("one-to-one chat needs 2 members, got %d", len(chat.Members))
		}
		key := store.DirectKey(chat.Members[0], chat.Members[1])
		directKey = &key

		existing, err := s.getChatByDirectKey(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("check existing chat: %w", err)
		}
	}

	id, err := s.insertChat(ctx, chat, directKey)
	if err != nil {
		// A concurrent writer created the same one-to-one chat first.
		var sqliteErr sqlite3.Error
		if directKey != nil && errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return s.getChatByDirectKey(ctx, *directKey)
		}
		return nil, err
	}

	return s.GetChat(ctx, id)
}

func (s *SQLiteStore) insertChat(ctx context.Context, chat store.NewChat, directKey *string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var adminID *string
	if chat.IsGroup && chat.AdminID != "" {
		adminID = &chat.AdminID
	}

	id := uuid.NewString()
	now := s.now()
	query := `
		INSERT INTO chats (id, name, is_group, admin_id, direct_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, chat.Name, chat.IsGroup, adminID, directKey, now, now); err != nil {
		return "", fmt.Errorf("insert chat: %w", err)
	}

	memberQuery := `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, position)
		VALUES (?, ?, ?)
	`
	for i, userID := range chat.Members {
		if _, err := tx.ExecContext(ctx, memberQuery, id, userID, i+1); err != nil {
			return "", fmt.Errorf("add member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// GetChat retrieves a populated chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, name, is_group, admin_id, latest_message_id, created_at, updated_at
		FROM chats
		WHERE id = ?
	`
	return s.populateChat(ctx, s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) getChatByDirectKey(ctx context.Context, directKey string) (*store.Chat, error) {
	query := `
		SELECT id, name, is_group, admin_id, latest_message_id, created_at, updated_at
		FROM chats
		WHERE direct_key = ?
	`
	return s.populateChat(ctx, s.db.QueryRowContext(ctx, query, directKey))
}

func (s *SQLiteStore) populateChat(ctx context.Context, row *sql.Row) (*store.Chat, error) {
	var (
		chat     store.Chat
		adminID  sql.NullString
		latestID sql.NullString
	)
	err := row.Scan(
		&chat.ID,
		&chat.Name,
		&chat.IsGroup,
		&adminID,
		&latestID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	members, err := s.listMembers(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.Members = members

	if adminID.Valid {
		admin, err := s.getProfile(ctx, s.db, adminID.String)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("populate admin: %w", err)
		}
		chat.Admin = admin
	}

	if latestID.Valid {
		latest, err := s.getLatestMessage(ctx, latestID.String)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("populate latest message: %w", err)
		}
		chat.LatestMessage = latest
	}

	return &chat, nil
}

func (s *SQLiteStore) listMembers(ctx context.Context, chatID string) ([]store.Profile, error) {
	query := `
		SELECT u.id, u.name, u.email, u.avatar
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = ?
		ORDER BY cm.position ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := make([]store.Profile, 0)
	for rows.Next() {
		var p store.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Avatar); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, p)
	}

	return members, rows.Err()
}

func (s *SQLiteStore) getLatestMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		       u.id, u.name, u.email, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`
	var (
		msg    store.Message
		sender store.Profile
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
		&sender.ID, &sender.Name, &sender.Email, &sender.Avatar,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	msg.Sender = &sender
	return &msg, nil
}

// FindOneToOneChat returns the non-group chat containing both users.
func (s *SQLiteStore) FindOneToOneChat(ctx context.Context, userA, userB string) (*store.Chat, error) {
	query := `
		SELECT c.id, c.name, c.is_group, c.admin_id, c.latest_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members a ON a.chat_id = c.id AND a.user_id = ?
		JOIN chat_members b ON b.chat_id = c.id AND b.user_id = ?
		WHERE c.is_group = 0
		ORDER BY c.created_at ASC
		LIMIT 1
	`
	return s.populateChat(ctx, s.db.QueryRowContext(ctx, query, userA, userB))
}

// FindChatsForUser lists chats containing userID, most recently updated first.
func (s *SQLiteStore) FindChatsForUser(ctx context.Context, userID string) ([]*store.Chat, error) {
	query := `
		SELECT c.id
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.updated_at DESC, c.rowid DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	iterErr := rows.Err()
	rows.Close()
	if iterErr != nil {
		return nil, fmt.Errorf("iterate chats: %w", iterErr)
	}

	// Populating runs further queries; the single connection must be released first.
	chats := make([]*store.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.GetChat(ctx, id)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, nil
}

// UpdateChatName renames a chat and returns it populated.
func (s *SQLiteStore) UpdateChatName(ctx context.Context, chatID, name string) (*store.Chat, error) {
	query := `UPDATE chats SET name = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, name, s.now(), chatID)
	if err != nil {
		return nil, fmt.Errorf("update chat name: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, chatID)
}

// PullChatMember removes a member and returns the chat populated.
func (s *SQLiteStore) PullChatMember(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	if err := s.touchChat(ctx, chatID); err != nil {
		return nil, err
	}

	query := `DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, chatID, userID); err != nil {
		return nil, fmt.Errorf("delete chat member: %w", err)
	}
	return s.GetChat(ctx, chatID)
}

// PushChatMember appends a member (no-op if present) and returns the chat populated.
func (s *SQLiteStore) PushChatMember(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	if err := s.touchChat(ctx, chatID); err != nil {
		return nil, err
	}

	query := `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, position)
		SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM chat_members WHERE chat_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, chatID, userID, chatID); err != nil {
		return nil, fmt.Errorf("insert chat member: %w", err)
	}
	return s.GetChat(ctx, chatID)
}

// UpdateChatLatestMessage points the chat at its newest message.
func (s *SQLiteStore) UpdateChatLatestMessage(ctx context.Context, chatID, messageID string) error {
	query := `UPDATE chats SET latest_message_id = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, messageID, s.now(), chatID)
	if err != nil {
		return fmt.Errorf("update latest message: %w", err)
	}
	return requireAffected(result)
}

// IsChatMember checks if user is a member of the chat.
func (s *SQLiteStore) IsChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	query := `SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?`
	var exists int
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// touchChat bumps updated_at and reports store.ErrNotFound for unknown chats.
func (s *SQLiteStore) touchChat(ctx context.Context, chatID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, s.now(), chatID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chat: %w", store.ErrNotFound)
	}
	return nil
}
