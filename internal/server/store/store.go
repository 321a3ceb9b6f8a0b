// Package store is the chat persistence layer: accounts, channels, and
// messages with a monotonic per-channel sequence number.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

type Account struct {
	ID         string
	Handle     string
	SecretHash []byte
	CreatedAt  time.Time
}

type Channel struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Seq       int64
	Text      string
	CreatedAt time.Time
}

// HashSecret derives the stored secret hash from a plaintext secret.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// CheckSecret reports whether secret matches the account's stored hash.
func (a Account) CheckSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword(a.SecretHash, []byte(secret)) == nil
}

// Store wraps the SQL database with typed chat queries.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, handle, secret_hash, created_at) VALUES (?, ?, ?, ?)",
		a.ID, a.Handle, a.SecretHash, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccountByHandle looks an account up by handle.
func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx,
		"SELECT id, handle, secret_hash, created_at FROM accounts WHERE handle = ?",
		handle).Scan(&a.ID, &a.Handle, &a.SecretHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByID looks an account up by id.
func (s *Store) GetAccountByID(ctx context.Context, id string) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx,
		"SELECT id, handle, secret_hash, created_at FROM accounts WHERE id = ?",
		id).Scan(&a.ID, &a.Handle, &a.SecretHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// CreateChannel inserts a new channel.
func (s *Store) CreateChannel(ctx context.Context, c Channel) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channels (id, name, created_by, created_at) VALUES (?, ?, ?, ?)",
		c.ID, c.Name, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}

// GetChannelByName looks a channel up by name.
func (s *Store) GetChannelByName(ctx context.Context, name string) (Channel, error) {
	var c Channel
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_by, created_at FROM channels WHERE name = ?",
		name).Scan(&c.ID, &c.Name, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

// ListChannels returns all channels ordered by name.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_by, created_at FROM channels ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// AppendMessage inserts a message with the next sequence number for the
// channel. The max-seq read and the insert run in one transaction so the
// sequence stays gapless and monotonic.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append message: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE channel_id = ?",
		m.ChannelID).Scan(&seq)
	if err != nil {
		return Message{}, fmt.Errorf("next message seq: %w", err)
	}
	m.Seq = seq

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, channel_id, author_id, seq, text, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.ChannelID, m.AuthorID, m.Seq, m.Text, m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit append message: %w", err)
	}
	return m, nil
}

// ListMessages returns the last limit messages of a channel in ascending
// sequence order.
func (s *Store) ListMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_id, seq, text, created_at FROM (
			SELECT id, channel_id, author_id, seq, text, created_at
			FROM messages WHERE channel_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Seq, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
