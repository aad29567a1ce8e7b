package support

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/supportbot/internal/store"
)

var (
	// ErrUserNotFoundOnSite means the shared phone is unknown to the customer directory.
	ErrUserNotFoundOnSite = errors.New("phone not registered on site")
	// ErrPhoneAlreadyBelongsCustomer means another platform user already owns the phone.
	ErrPhoneAlreadyBelongsCustomer = errors.New("phone already belongs to another customer")
)

// PhoneConflictError names the platform user that already owns a phone.
// It matches ErrPhoneAlreadyBelongsCustomer with errors.Is.
type PhoneConflictError struct {
	Phone       string
	OwnerUserID int64
}

func (e *PhoneConflictError) Error() string {
	return fmt.Sprintf("phone %s already belongs to user %d", e.Phone, e.OwnerUserID)
}

func (e *PhoneConflictError) Is(target error) bool {
	return target == ErrPhoneAlreadyBelongsCustomer
}

// PlatformUser is any chat participant known to the bot.
type PlatformUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	Banned    bool      `json:"banned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the username, or the id when the user has none.
func (u PlatformUser) DisplayName() string {
	if name := strings.TrimSpace(u.Username); name != "" {
		return name
	}
	return strconv.FormatInt(u.ID, 10)
}

// Operator is a platform user holding a staff role.
type Operator struct {
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is a platform user matched to the customer directory by phone.
type Customer struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Phone     string    `json:"phone"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ForwardedMessage links a user's message to its copy in the support chat.
type ForwardedMessage struct {
	ID                   string    `json:"id"`
	UserID               int64     `json:"user_id"`
	SupportChatMessageID int       `json:"support_chat_message_id"`
	Answered             bool      `json:"answered"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type ListUsersResponse struct {
	Items []PlatformUser `json:"items"`
}

type ListOperatorsResponse struct {
	Items []Operator `json:"items"`
}

type ListCustomersResponse struct {
	Items []Customer `json:"items"`
}

type ListMessagesResponse struct {
	Items []ForwardedMessage `json:"items"`
}

func toPlatformUser(u store.User) PlatformUser {
	return PlatformUser{
		ID:        u.ID,
		Username:  u.Username,
		Banned:    u.Banned,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toOperator(op store.Operator) Operator {
	return Operator{UserID: op.UserID, Role: op.Role, CreatedAt: op.CreatedAt}
}

func toCustomer(c store.Customer) Customer {
	return Customer{
		ID:        c.ID,
		UserID:    c.UserID,
		Phone:     c.Phone,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toForwardedMessage(m store.Message) ForwardedMessage {
	return ForwardedMessage{
		ID:                   m.ID,
		UserID:               m.UserID,
		SupportChatMessageID: m.SupportChatMessageID,
		Answered:             m.Answered,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
