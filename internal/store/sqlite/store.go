// Package sqlite implements the record store in a single SQLite file (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/memohai/supportbot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          INTEGER PRIMARY KEY,
	username    TEXT NOT NULL DEFAULT '',
	banned      INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS operators (
	user_id     INTEGER PRIMARY KEY REFERENCES users (id),
	role        TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS customers (
	id          TEXT PRIMARY KEY,
	user_id     INTEGER NOT NULL UNIQUE REFERENCES users (id),
	phone       TEXT NOT NULL UNIQUE,
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id                       TEXT PRIMARY KEY,
	user_id                  INTEGER NOT NULL REFERENCES users (id),
	support_chat_message_id  INTEGER NOT NULL UNIQUE,
	answered                 INTEGER NOT NULL DEFAULT 0,
	created_at               INTEGER NOT NULL,
	updated_at               INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_answered ON messages (answered, created_at);
`

const (
	userColumns     = "id, username, banned, created_at, updated_at"
	operatorColumns = "user_id, role, created_at"
	customerColumns = "id, user_id, phone, first_name, last_name, created_at, updated_at"
	messageColumns  = "id, user_id, support_chat_message_id, answered, created_at, updated_at"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection serialises writers; SQLite locks the whole file anyway.
	conn.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		schema,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
	}
	return &Store{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertUser(ctx context.Context, user store.User) (store.User, error) {
	now := s.now().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET username = COALESCE(NULLIF(excluded.username, ''), users.username), updated_at = excluded.updated_at
		RETURNING `+userColumns, user.ID, user.Username, now, now)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id int64) (store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) SetUserBanned(ctx context.Context, id int64, banned bool) (store.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET banned = ?, updated_at = ? WHERE id = ?
		RETURNING `+userColumns, banned, s.now().UnixNano(), id)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

func (s *Store) AddOperator(ctx context.Context, userID int64, role string) (store.Operator, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return store.Operator{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO operators (user_id, role, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET role = excluded.role
		RETURNING `+operatorColumns, userID, role, s.now().UnixNano())
	return scanOperator(row)
}

func (s *Store) GetOperator(ctx context.Context, userID int64) (store.Operator, error) {
	return scanOperator(s.db.QueryRowContext(ctx, `SELECT `+operatorColumns+` FROM operators WHERE user_id = ?`, userID))
}

func (s *Store) ListOperators(ctx context.Context) ([]store.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY created_at, user_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanOperator)
}

func (s *Store) CreateCustomer(ctx context.Context, customer store.Customer) (store.Customer, error) {
	if err := s.requireUser(ctx, customer.UserID); err != nil {
		return store.Customer{}, err
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	now := s.now().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, user_id, phone, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+customerColumns,
		customer.ID, customer.UserID, customer.Phone, customer.FirstName, customer.LastName, now, now)
	created, err := scanCustomer(row)
	if isDuplicate(err) {
		return store.Customer{}, fmt.Errorf("customer phone %s: %w", customer.Phone, store.ErrDuplicate)
	}
	return created, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (store.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
}

func (s *Store) GetCustomerByUserID(ctx context.Context, userID int64) (store.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = ?`, userID))
}

func (s *Store) GetCustomerByPhone(ctx context.Context, phone string) (store.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = ?`, phone))
}

func (s *Store) UpdateCustomer(ctx context.Context, id string, update store.CustomerUpdate) (store.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE customers SET
			phone = COALESCE(?, phone),
			first_name = COALESCE(?, first_name),
			last_name = COALESCE(?, last_name),
			updated_at = ?
		WHERE id = ?
		RETURNING `+customerColumns,
		nullable(update.Phone), nullable(update.FirstName), nullable(update.LastName), s.now().UnixNano(), id)
	updated, err := scanCustomer(row)
	if isDuplicate(err) {
		return store.Customer{}, fmt.Errorf("customer phone: %w", store.ErrDuplicate)
	}
	return updated, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]store.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at, user_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCustomer)
}

func (s *Store) CreateMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if err := s.requireUser(ctx, msg.UserID); err != nil {
		return store.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := s.now().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, user_id, support_chat_message_id, answered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+messageColumns,
		msg.ID, msg.UserID, msg.SupportChatMessageID, msg.Answered, now, now)
	created, err := scanMessage(row)
	if isDuplicate(err) {
		return store.Message{}, fmt.Errorf("support chat message %d: %w", msg.SupportChatMessageID, store.ErrDuplicate)
	}
	return created, err
}

func (s *Store) GetMessage(ctx context.Context, id string) (store.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
}

func (s *Store) GetMessageBySupportChatID(ctx context.Context, supportChatMessageID int) (store.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE support_chat_message_id = ?`, supportChatMessageID))
}

func (s *Store) SetMessageAnswered(ctx context.Context, id string, answered bool) (store.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET answered = ?, updated_at = ? WHERE id = ?
		RETURNING `+messageColumns, answered, s.now().UnixNano(), id)
	return scanMessage(row)
}

func (s *Store) ListUnansweredMessages(ctx context.Context) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE answered = 0 ORDER BY created_at, support_chat_message_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMessage)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (store.User, error) {
	var (
		u                store.User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Banned, &created, &updated); err != nil {
		return store.User{}, mapNoRows(err, "user")
	}
	u.CreatedAt, u.UpdatedAt = fromNanos(created), fromNanos(updated)
	return u, nil
}

func scanOperator(row scanner) (store.Operator, error) {
	var (
		op      store.Operator
		created int64
	)
	if err := row.Scan(&op.UserID, &op.Role, &created); err != nil {
		return store.Operator{}, mapNoRows(err, "operator")
	}
	op.CreatedAt = fromNanos(created)
	return op, nil
}

func scanCustomer(row scanner) (store.Customer, error) {
	var (
		c                store.Customer
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Phone, &c.FirstName, &c.LastName, &created, &updated); err != nil {
		return store.Customer{}, mapNoRows(err, "customer")
	}
	c.CreatedAt, c.UpdatedAt = fromNanos(created), fromNanos(updated)
	return c, nil
}

func scanMessage(row scanner) (store.Message, error) {
	var (
		m                store.Message
		created, updated int64
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.SupportChatMessageID, &m.Answered, &created, &updated); err != nil {
		return store.Message{}, mapNoRows(err, "message")
	}
	m.CreatedAt, m.UpdatedAt = fromNanos(created), fromNanos(updated)
	return m, nil
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	items := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullable(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func fromNanos(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func mapNoRows(err error, kind string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", kind, store.ErrNotFound)
	}
	return err
}

func (s *Store) requireUser(ctx context.Context, userID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return nil
}

// isDuplicate matches unique and primary key violations. Drivers built without extended
// result codes only report the primary SQLITE_CONSTRAINT code.
func isDuplicate(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
