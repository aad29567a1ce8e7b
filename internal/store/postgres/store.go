// Package postgres implements the record store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/supportbot/internal/db"
	"github.com/memohai/supportbot/internal/store"
)

const (
	userColumns     = "id, username, banned, created_at, updated_at"
	operatorColumns = "user_id, role, created_at"
	customerColumns = "id, user_id, phone, first_name, last_name, created_at, updated_at"
	messageColumns  = "id, user_id, support_chat_message_id, answered, created_at, updated_at"
)

// Store is a store.Store backed by a pgx pool. The schema comes from the db migrations.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) UpsertUser(ctx context.Context, user store.User) (store.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username), updated_at = now()
		RETURNING `+userColumns, user.ID, user.Username)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id int64) (store.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) SetUserBanned(ctx context.Context, id int64, banned bool) (store.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET banned = $2, updated_at = now() WHERE id = $1
		RETURNING `+userColumns, id, banned)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

func (s *Store) AddOperator(ctx context.Context, userID int64, role string) (store.Operator, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO operators (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING `+operatorColumns, userID, role)
	op, err := scanOperator(row)
	if db.IsForeignKeyViolation(err) {
		return store.Operator{}, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return op, err
}

func (s *Store) GetOperator(ctx context.Context, userID int64) (store.Operator, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE user_id = $1`, userID)
	return scanOperator(row)
}

func (s *Store) ListOperators(ctx context.Context) ([]store.Operator, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY created_at, user_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanOperator)
}

func (s *Store) CreateCustomer(ctx context.Context, customer store.Customer) (store.Customer, error) {
	id := customer.ID
	if id == "" {
		id = uuid.NewString()
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return store.Customer{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO customers (id, user_id, phone, first_name, last_name) VALUES ($1, $2, $3, $4, $5)
		RETURNING `+customerColumns, pgID, customer.UserID, customer.Phone, customer.FirstName, customer.LastName)
	created, err := scanCustomer(row)
	switch {
	case db.IsUniqueViolation(err):
		return store.Customer{}, fmt.Errorf("customer phone %s: %w", customer.Phone, store.ErrDuplicate)
	case db.IsForeignKeyViolation(err):
		return store.Customer{}, fmt.Errorf("user %d: %w", customer.UserID, store.ErrNotFound)
	}
	return created, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (store.Customer, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return store.Customer{}, fmt.Errorf("customer %q: %w", id, store.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, pgID)
	return scanCustomer(row)
}

func (s *Store) GetCustomerByUserID(ctx context.Context, userID int64) (store.Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = $1`, userID)
	return scanCustomer(row)
}

func (s *Store) GetCustomerByPhone(ctx context.Context, phone string) (store.Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone)
	return scanCustomer(row)
}

func (s *Store) UpdateCustomer(ctx context.Context, id string, update store.CustomerUpdate) (store.Customer, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return store.Customer{}, fmt.Errorf("customer %q: %w", id, store.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE customers SET
			phone = COALESCE($2, phone),
			first_name = COALESCE($3, first_name),
			last_name = COALESCE($4, last_name),
			updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns, pgID, update.Phone, update.FirstName, update.LastName)
	updated, err := scanCustomer(row)
	if db.IsUniqueViolation(err) {
		return store.Customer{}, fmt.Errorf("customer phone: %w", store.ErrDuplicate)
	}
	return updated, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]store.Customer, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at, user_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCustomer)
}

func (s *Store) CreateMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return store.Message{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, user_id, support_chat_message_id, answered) VALUES ($1, $2, $3, $4)
		RETURNING `+messageColumns, pgID, msg.UserID, msg.SupportChatMessageID, msg.Answered)
	created, err := scanMessage(row)
	switch {
	case db.IsUniqueViolation(err):
		return store.Message{}, fmt.Errorf("support chat message %d: %w", msg.SupportChatMessageID, store.ErrDuplicate)
	case db.IsForeignKeyViolation(err):
		return store.Message{}, fmt.Errorf("user %d: %w", msg.UserID, store.ErrNotFound)
	}
	return created, err
}

func (s *Store) GetMessage(ctx context.Context, id string) (store.Message, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return store.Message{}, fmt.Errorf("message %q: %w", id, store.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, pgID)
	return scanMessage(row)
}

func (s *Store) GetMessageBySupportChatID(ctx context.Context, supportChatMessageID int) (store.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE support_chat_message_id = $1`, supportChatMessageID)
	return scanMessage(row)
}

func (s *Store) SetMessageAnswered(ctx context.Context, id string, answered bool) (store.Message, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return store.Message{}, fmt.Errorf("message %q: %w", id, store.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE messages SET answered = $2, updated_at = now() WHERE id = $1
		RETURNING `+messageColumns, pgID, answered)
	return scanMessage(row)
}

func (s *Store) ListUnansweredMessages(ctx context.Context) ([]store.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE NOT answered ORDER BY created_at, support_chat_message_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMessage)
}

func scanUser(row pgx.Row) (store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Username, &u.Banned, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return store.User{}, mapNoRows(err, "user")
	}
	return u, nil
}

func scanOperator(row pgx.Row) (store.Operator, error) {
	var op store.Operator
	if err := row.Scan(&op.UserID, &op.Role, &op.CreatedAt); err != nil {
		return store.Operator{}, mapNoRows(err, "operator")
	}
	return op, nil
}

func scanCustomer(row pgx.Row) (store.Customer, error) {
	var (
		c  store.Customer
		id pgtype.UUID
	)
	if err := row.Scan(&id, &c.UserID, &c.Phone, &c.FirstName, &c.LastName, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return store.Customer{}, mapNoRows(err, "customer")
	}
	c.ID = db.UUIDToString(id)
	return c, nil
}

func scanMessage(row pgx.Row) (store.Message, error) {
	var (
		m  store.Message
		id pgtype.UUID
	)
	if err := row.Scan(&id, &m.UserID, &m.SupportChatMessageID, &m.Answered, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return store.Message{}, mapNoRows(err, "message")
	}
	m.ID = db.UUIDToString(id)
	return m, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
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

func mapNoRows(err error, kind string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", kind, store.ErrNotFound)
	}
	return err
}
