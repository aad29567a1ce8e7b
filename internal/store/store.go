// Package store defines the record store shared by every persistence driver.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// RoleOperator is the only staff role currently assigned.
const RoleOperator = "operator"

// User is a platform (Telegram) user known to the bot.
type User struct {
	ID        int64
	Username  string
	Banned    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Operator marks a user as support staff.
type Operator struct {
	UserID    int64
	Role      string
	CreatedAt time.Time
}

// Customer links a platform user to a phone found in the customer directory.
type Customer struct {
	ID        string
	UserID    int64
	Phone     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerUpdate patches a customer; nil fields are left unchanged.
type CustomerUpdate struct {
	Phone     *string
	FirstName *string
	LastName  *string
}

// Message is a user message relayed into the support chat.
type Message struct {
	ID                   string
	UserID               int64
	SupportChatMessageID int
	Answered             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type UserStore interface {
	// UpsertUser creates the user or refreshes its username. An empty username keeps the stored one.
	UpsertUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	SetUserBanned(ctx context.Context, id int64, banned bool) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

type OperatorStore interface {
	// AddOperator is idempotent; the user record must exist.
	AddOperator(ctx context.Context, userID int64, role string) (Operator, error)
	GetOperator(ctx context.Context, userID int64) (Operator, error)
	ListOperators(ctx context.Context) ([]Operator, error)
}

type CustomerStore interface {
	// CreateCustomer fails with ErrDuplicate when the phone or the user already has a customer
	// and with ErrNotFound when the user record is missing.
	CreateCustomer(ctx context.Context, customer Customer) (Customer, error)
	GetCustomer(ctx context.Context, id string) (Customer, error)
	GetCustomerByUserID(ctx context.Context, userID int64) (Customer, error)
	GetCustomerByPhone(ctx context.Context, phone string) (Customer, error)
	UpdateCustomer(ctx context.Context, id string, update CustomerUpdate) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	GetMessageBySupportChatID(ctx context.Context, supportChatMessageID int) (Message, error)
	SetMessageAnswered(ctx context.Context, id string, answered bool) (Message, error)
	// ListUnansweredMessages returns unanswered messages oldest first.
	ListUnansweredMessages(ctx context.Context) ([]Message, error)
}

// Store is the full record store. Every mutation returns the record as persisted.
type Store interface {
	UserStore
	OperatorStore
	CustomerStore
	MessageStore
	Close() error
}
