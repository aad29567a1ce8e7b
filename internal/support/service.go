// Package support holds the support-desk domain: platform users, operators,
// customers and the messages relayed between them and the support chat.
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/memohai/supportbot/internal/directory"
	"github.com/memohai/supportbot/internal/store"
)

// Service implements the support-desk operations on top of the record store.
type Service struct {
	store     store.Store
	directory directory.Lookup
	logger    *slog.Logger

	users     *identityCache[int64, PlatformUser]
	operators *identityCache[int64, Operator]
	customers *identityCache[int64, Customer]
	messages  *identityCache[int, ForwardedMessage]
}

// NewService creates a support service. Caches live as long as the service.
func NewService(log *slog.Logger, st store.Store, dir directory.Lookup) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     st,
		directory: dir,
		logger:    log.With(slog.String("service", "support")),
		users:     newIdentityCache[int64, PlatformUser](),
		operators: newIdentityCache[int64, Operator](),
		customers: newIdentityCache[int64, Customer](),
		messages:  newIdentityCache[int, ForwardedMessage](),
	}
}

// RegisterPlatformUser creates the user or refreshes its username.
func (s *Service) RegisterPlatformUser(ctx context.Context, userID int64, username string) (PlatformUser, error) {
	row, err := s.store.UpsertUser(ctx, store.User{ID: userID, Username: strings.TrimSpace(username)})
	if err != nil {
		return PlatformUser{}, fmt.Errorf("register user %d: %w", userID, err)
	}
	return s.users.put(userID, toPlatformUser(row)), nil
}

// ensureUser makes sure a user record exists without touching its username.
func (s *Service) ensureUser(ctx context.Context, userID int64) (PlatformUser, error) {
	if u, ok := s.users.get(userID); ok {
		return u, nil
	}
	return s.RegisterPlatformUser(ctx, userID, "")
}

func (s *Service) GetUser(ctx context.Context, userID int64) (PlatformUser, error) {
	return s.users.load(userID, func() (PlatformUser, error) {
		row, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return PlatformUser{}, err
		}
		return toPlatformUser(row), nil
	})
}

// IsBanned reports whether the user is banned. Unknown users are not banned.
func (s *Service) IsBanned(ctx context.Context, userID int64) (bool, error) {
	u, err := s.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Banned, nil
}

// Ban bans userID on behalf of operatorID.
func (s *Service) Ban(ctx context.Context, operatorID, userID int64) (PlatformUser, error) {
	return s.setBanned(ctx, operatorID, userID, true)
}

// Unban lifts the ban on userID on behalf of operatorID.
func (s *Service) Unban(ctx context.Context, operatorID, userID int64) (PlatformUser, error) {
	return s.setBanned(ctx, operatorID, userID, false)
}

func (s *Service) setBanned(ctx context.Context, operatorID, userID int64, banned bool) (PlatformUser, error) {
	if _, err := s.RegisterOperator(ctx, operatorID); err != nil {
		return PlatformUser{}, err
	}
	if _, err := s.ensureUser(ctx, userID); err != nil {
		return PlatformUser{}, err
	}
	row, err := s.store.SetUserBanned(ctx, userID, banned)
	if err != nil {
		return PlatformUser{}, fmt.Errorf("set banned for user %d: %w", userID, err)
	}
	s.logger.Info("user ban changed",
		slog.Int64("operator_id", operatorID),
		slog.Int64("user_id", userID),
		slog.Bool("banned", banned),
	)
	return s.users.put(userID, toPlatformUser(row)), nil
}

// RegisterOperator marks userID as support staff, creating the user record when needed.
func (s *Service) RegisterOperator(ctx context.Context, userID int64) (Operator, error) {
	if op, ok := s.operators.get(userID); ok {
		return op, nil
	}
	if _, err := s.ensureUser(ctx, userID); err != nil {
		return Operator{}, err
	}
	row, err := s.store.AddOperator(ctx, userID, store.RoleOperator)
	if err != nil {
		return Operator{}, fmt.Errorf("register operator %d: %w", userID, err)
	}
	return s.operators.put(userID, toOperator(row)), nil
}

func (s *Service) IsOperator(ctx context.Context, userID int64) (bool, error) {
	_, err := s.operators.load(userID, func() (Operator, error) {
		row, err := s.store.GetOperator(ctx, userID)
		if err != nil {
			return Operator{}, err
		}
		return toOperator(row), nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.store.ListOperators(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row store.Operator, _ int) Operator { return toOperator(row) }), nil
}

// RegisterCustomer binds userID to the directory entry for phone and returns the customer.
// It fails with ErrUserNotFoundOnSite when the directory has no such phone and with a
// *PhoneConflictError when the phone belongs to another user.
func (s *Service) RegisterCustomer(ctx context.Context, userID int64, phone string) (Customer, error) {
	phone = directory.NormalizePhone(phone)
	if phone == "" {
		return Customer{}, ErrUserNotFoundOnSite
	}
	name, err := s.directory.LookupNameByPhone(ctx, phone)
	if errors.Is(err, directory.ErrNotFound) {
		return Customer{}, ErrUserNotFoundOnSite
	}
	if err != nil {
		return Customer{}, fmt.Errorf("directory lookup: %w", err)
	}
	if _, err := s.ensureUser(ctx, userID); err != nil {
		return Customer{}, err
	}

	row, err := s.bindPhone(ctx, userID, phone)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race for the phone or the user; resolve against the winner.
		row, err = s.bindPhone(ctx, userID, phone)
	}
	if err != nil {
		return Customer{}, err
	}

	row, err = s.store.UpdateCustomer(ctx, row.ID, store.CustomerUpdate{FirstName: &name})
	if err != nil {
		return Customer{}, fmt.Errorf("set customer name: %w", err)
	}
	s.logger.Info("customer registered",
		slog.Int64("user_id", userID),
		slog.String("customer_id", row.ID),
	)
	return s.customers.put(userID, toCustomer(row)), nil
}

// bindPhone returns the customer record that links userID to phone, creating or moving it as needed.
func (s *Service) bindPhone(ctx context.Context, userID int64, phone string) (store.Customer, error) {
	owner, err := s.store.GetCustomerByPhone(ctx, phone)
	switch {
	case err == nil:
		if owner.UserID != userID {
			return store.Customer{}, &PhoneConflictError{Phone: phone, OwnerUserID: owner.UserID}
		}
		return owner, nil
	case !errors.Is(err, store.ErrNotFound):
		return store.Customer{}, fmt.Errorf("get customer by phone: %w", err)
	}

	current, err := s.store.GetCustomerByUserID(ctx, userID)
	switch {
	case err == nil:
		return s.store.UpdateCustomer(ctx, current.ID, store.CustomerUpdate{Phone: &phone})
	case !errors.Is(err, store.ErrNotFound):
		return store.Customer{}, fmt.Errorf("get customer by user: %w", err)
	}
	return s.store.CreateCustomer(ctx, store.Customer{UserID: userID, Phone: phone})
}

// RenameCustomer sets the customer's first and last name.
func (s *Service) RenameCustomer(ctx context.Context, customerID, firstName, lastName string) (Customer, error) {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)
	row, err := s.store.UpdateCustomer(ctx, customerID, store.CustomerUpdate{FirstName: &first, LastName: &last})
	if err != nil {
		return Customer{}, fmt.Errorf("rename customer %s: %w", customerID, err)
	}
	return s.customers.put(row.UserID, toCustomer(row)), nil
}

// FindCustomerByUserID returns the customer bound to userID, if any. The store is read on
// every call; the cached value answers only when the store fails.
func (s *Service) FindCustomerByUserID(ctx context.Context, userID int64) (Customer, bool) {
	row, err := s.store.GetCustomerByUserID(ctx, userID)
	switch {
	case err == nil:
		return s.customers.put(userID, toCustomer(row)), true
	case errors.Is(err, store.ErrNotFound):
		s.customers.remove(userID)
		return Customer{}, false
	}
	s.logger.Error("find customer failed", slog.Int64("user_id", userID), slog.Any("error", err))
	return s.customers.get(userID)
}

func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row store.Customer, _ int) Customer { return toCustomer(row) }), nil
}

// ListNonCustomerUsers returns users that never completed customer registration.
func (s *Service) ListNonCustomerUsers(ctx context.Context) ([]PlatformUser, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	bound := lo.SliceToMap(customers, func(c store.Customer) (int64, struct{}) { return c.UserID, struct{}{} })
	return s.listUsers(ctx, func(u store.User) bool {
		_, ok := bound[u.ID]
		return !ok
	})
}

func (s *Service) ListBannedUsers(ctx context.Context) ([]PlatformUser, error) {
	return s.listUsers(ctx, func(u store.User) bool { return u.Banned })
}

func (s *Service) listUsers(ctx context.Context, keep func(store.User) bool) ([]PlatformUser, error) {
	rows, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(rows, func(row store.User, _ int) (PlatformUser, bool) {
		return toPlatformUser(row), keep(row)
	}), nil
}

// RecordForwardedMessage links a relayed message in the support chat back to its author.
func (s *Service) RecordForwardedMessage(ctx context.Context, userID int64, supportChatMessageID int) (ForwardedMessage, error) {
	if _, err := s.ensureUser(ctx, userID); err != nil {
		return ForwardedMessage{}, err
	}
	row, err := s.store.CreateMessage(ctx, store.Message{UserID: userID, SupportChatMessageID: supportChatMessageID})
	if err != nil {
		return ForwardedMessage{}, fmt.Errorf("record forwarded message: %w", err)
	}
	return s.messages.put(supportChatMessageID, toForwardedMessage(row)), nil
}

// FindForwardedMessage returns the forwarded message shown as supportChatMessageID, if any.
func (s *Service) FindForwardedMessage(ctx context.Context, supportChatMessageID int) (ForwardedMessage, bool) {
	m, err := s.messages.load(supportChatMessageID, func() (ForwardedMessage, error) {
		row, err := s.store.GetMessageBySupportChatID(ctx, supportChatMessageID)
		if err != nil {
			return ForwardedMessage{}, err
		}
		return toForwardedMessage(row), nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("find forwarded message failed",
				slog.Int("support_chat_message_id", supportChatMessageID),
				slog.Any("error", err),
			)
		}
		return ForwardedMessage{}, false
	}
	return m, true
}

// SetAnswered marks the forwarded message answered or unanswered.
func (s *Service) SetAnswered(ctx context.Context, messageID string, answered bool) (ForwardedMessage, error) {
	row, err := s.store.SetMessageAnswered(ctx, messageID, answered)
	if err != nil {
		return ForwardedMessage{}, fmt.Errorf("set answered for message %s: %w", messageID, err)
	}
	return s.messages.put(row.SupportChatMessageID, toForwardedMessage(row)), nil
}

// ListUnanswered returns unanswered forwarded messages, oldest first.
func (s *Service) ListUnanswered(ctx context.Context) ([]ForwardedMessage, error) {
	rows, err := s.store.ListUnansweredMessages(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row store.Message, _ int) ForwardedMessage { return toForwardedMessage(row) }), nil
}
