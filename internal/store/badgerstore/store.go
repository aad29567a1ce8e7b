// Package badgerstore implements the record store on the embedded badger key-value database.
//
// Records are JSON values under kind-prefixed keys. Secondary keys (customer phone, customer
// owner, support chat message id) are index entries holding the primary id and are written in
// the same transaction as the record.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/memohai/supportbot/internal/store"
)

const (
	prefixUser          = "user:"
	prefixOperator      = "operator:"
	prefixCustomer      = "customer:"
	prefixCustomerPhone = "customer_phone:"
	prefixCustomerUser  = "customer_user:"
	prefixMessage       = "message:"
	prefixMessageChat   = "message_chat:"
)

type Store struct {
	db  *badger.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(&slogBadgerLogger{log: log.With(slog.String("component", "badger"))})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertUser(_ context.Context, user store.User) (store.User, error) {
	var saved store.User
	err := s.db.Update(func(txn *badger.Txn) error {
		key := userKey(user.ID)
		now := s.now()
		var existing store.User
		switch err := getJSON(txn, key, &existing); {
		case errors.Is(err, store.ErrNotFound):
			saved = store.User{ID: user.ID, Username: user.Username, CreatedAt: now, UpdatedAt: now}
		case err != nil:
			return err
		default:
			saved = existing
			if user.Username != "" {
				saved.Username = user.Username
			}
			saved.UpdatedAt = now
		}
		return setJSON(txn, key, saved)
	})
	if err != nil {
		return store.User{}, err
	}
	return saved, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (store.User, error) {
	var user store.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	return user, err
}

func (s *Store) SetUserBanned(_ context.Context, id int64, banned bool) (store.User, error) {
	var user store.User
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, userKey(id), &user); err != nil {
			return err
		}
		user.Banned = banned
		user.UpdatedAt = s.now()
		return setJSON(txn, userKey(id), user)
	})
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]store.User, error) {
	users, err := listPrefix[store.User](s.db, prefixUser)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *Store) AddOperator(_ context.Context, userID int64, role string) (store.Operator, error) {
	var op store.Operator
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireKey(txn, userKey(userID)); err != nil {
			return fmt.Errorf("user %d: %w", userID, err)
		}
		key := operatorKey(userID)
		switch err := getJSON(txn, key, &op); {
		case errors.Is(err, store.ErrNotFound):
			op = store.Operator{UserID: userID, CreatedAt: s.now()}
		case err != nil:
			return err
		}
		op.Role = role
		return setJSON(txn, key, op)
	})
	if err != nil {
		return store.Operator{}, err
	}
	return op, nil
}

func (s *Store) GetOperator(_ context.Context, userID int64) (store.Operator, error) {
	var op store.Operator
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, operatorKey(userID), &op)
	})
	return op, err
}

func (s *Store) ListOperators(_ context.Context) ([]store.Operator, error) {
	ops, err := listPrefix[store.Operator](s.db, prefixOperator)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].CreatedAt.Before(ops[j].CreatedAt) })
	return ops, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer store.Customer) (store.Customer, error) {
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	now := s.now()
	customer.CreatedAt, customer.UpdatedAt = now, now
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireKey(txn, userKey(customer.UserID)); err != nil {
			return fmt.Errorf("user %d: %w", customer.UserID, err)
		}
		if err := requireAbsent(txn, phoneKey(customer.Phone)); err != nil {
			return fmt.Errorf("customer phone %s: %w", customer.Phone, err)
		}
		if err := requireAbsent(txn, customerUserKey(customer.UserID)); err != nil {
			return fmt.Errorf("customer of user %d: %w", customer.UserID, err)
		}
		if err := setJSON(txn, customerKey(customer.ID), customer); err != nil {
			return err
		}
		if err := txn.Set(phoneKey(customer.Phone), []byte(customer.ID)); err != nil {
			return err
		}
		return txn.Set(customerUserKey(customer.UserID), []byte(customer.ID))
	})
	if err != nil {
		return store.Customer{}, err
	}
	return customer, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (store.Customer, error) {
	var customer store.Customer
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, customerKey(id), &customer)
	})
	return customer, err
}

func (s *Store) GetCustomerByUserID(_ context.Context, userID int64) (store.Customer, error) {
	return s.customerByIndex(customerUserKey(userID))
}

func (s *Store) GetCustomerByPhone(_ context.Context, phone string) (store.Customer, error) {
	return s.customerByIndex(phoneKey(phone))
}

func (s *Store) customerByIndex(indexKey []byte) (store.Customer, error) {
	var customer store.Customer
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getIndex(txn, indexKey)
		if err != nil {
			return fmt.Errorf("customer: %w", err)
		}
		return getJSON(txn, customerKey(id), &customer)
	})
	return customer, err
}

func (s *Store) UpdateCustomer(_ context.Context, id string, update store.CustomerUpdate) (store.Customer, error) {
	var customer store.Customer
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, customerKey(id), &customer); err != nil {
			return err
		}
		if update.Phone != nil && *update.Phone != customer.Phone {
			if err := requireAbsent(txn, phoneKey(*update.Phone)); err != nil {
				return fmt.Errorf("customer phone %s: %w", *update.Phone, err)
			}
			if err := txn.Delete(phoneKey(customer.Phone)); err != nil {
				return err
			}
			if err := txn.Set(phoneKey(*update.Phone), []byte(customer.ID)); err != nil {
				return err
			}
			customer.Phone = *update.Phone
		}
		if update.FirstName != nil {
			customer.FirstName = *update.FirstName
		}
		if update.LastName != nil {
			customer.LastName = *update.LastName
		}
		customer.UpdatedAt = s.now()
		return setJSON(txn, customerKey(id), customer)
	})
	if err != nil {
		return store.Customer{}, err
	}
	return customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]store.Customer, error) {
	customers, err := listPrefix[store.Customer](s.db, prefixCustomer)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(customers, func(i, j int) bool { return customers[i].CreatedAt.Before(customers[j].CreatedAt) })
	return customers, nil
}

func (s *Store) CreateMessage(_ context.Context, msg store.Message) (store.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := s.now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireKey(txn, userKey(msg.UserID)); err != nil {
			return fmt.Errorf("user %d: %w", msg.UserID, err)
		}
		if err := requireAbsent(txn, messageChatKey(msg.SupportChatMessageID)); err != nil {
			return fmt.Errorf("support chat message %d: %w", msg.SupportChatMessageID, err)
		}
		if err := setJSON(txn, messageKey(msg.ID), msg); err != nil {
			return err
		}
		return txn.Set(messageChatKey(msg.SupportChatMessageID), []byte(msg.ID))
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (store.Message, error) {
	var msg store.Message
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(id), &msg)
	})
	return msg, err
}

func (s *Store) GetMessageBySupportChatID(_ context.Context, supportChatMessageID int) (store.Message, error) {
	var msg store.Message
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getIndex(txn, messageChatKey(supportChatMessageID))
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		return getJSON(txn, messageKey(id), &msg)
	})
	return msg, err
}

func (s *Store) SetMessageAnswered(_ context.Context, id string, answered bool) (store.Message, error) {
	var msg store.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, messageKey(id), &msg); err != nil {
			return err
		}
		msg.Answered = answered
		msg.UpdatedAt = s.now()
		return setJSON(txn, messageKey(id), msg)
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListUnansweredMessages(_ context.Context) ([]store.Message, error) {
	all, err := listPrefix[store.Message](s.db, prefixMessage)
	if err != nil {
		return nil, err
	}
	items := make([]store.Message, 0, len(all))
	for _, msg := range all {
		if !msg.Answered {
			items = append(items, msg)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].SupportChatMessageID < items[j].SupportChatMessageID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func userKey(id int64) []byte {
	return []byte(prefixUser + strconv.FormatInt(id, 10))
}

func operatorKey(userID int64) []byte {
	return []byte(prefixOperator + strconv.FormatInt(userID, 10))
}

func customerKey(id string) []byte {
	return []byte(prefixCustomer + id)
}

func phoneKey(phone string) []byte {
	return []byte(prefixCustomerPhone + phone)
}

func customerUserKey(userID int64) []byte {
	return []byte(prefixCustomerUser + strconv.FormatInt(userID, 10))
}

func messageKey(id string) []byte {
	return []byte(prefixMessage + id)
}

func messageChatKey(supportChatMessageID int) []byte {
	return []byte(prefixMessageChat + strconv.Itoa(supportChatMessageID))
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(key, data)
}

func getIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func requireKey(txn *badger.Txn, key []byte) error {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	return err
}

func requireAbsent(txn *badger.Txn, key []byte) error {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return store.ErrDuplicate
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil
	default:
		return err
	}
}

// listPrefix decodes every record under prefix. Index prefixes never share a record prefix:
// "customer:" does not match "customer_phone:" keys.
func listPrefix[T any](db *badger.DB, prefix string) ([]T, error) {
	items := make([]T, 0)
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var item T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// slogBadgerLogger adapts slog.Logger to badger.Logger so storage logs go through slog.
type slogBadgerLogger struct {
	log *slog.Logger
}

func (l *slogBadgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *slogBadgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *slogBadgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *slogBadgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
