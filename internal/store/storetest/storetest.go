// Package storetest holds the behaviour every store.Store driver must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/supportbot/internal/store"
)

// Opener returns a fresh, empty store. Cleanup is the opener's responsibility.
type Opener func(t *testing.T) store.Store

// Run executes the contract suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("operators", func(t *testing.T) { testOperators(t, open(t)) })
	t.Run("customers", func(t *testing.T) { testCustomers(t, open(t)) })
	t.Run("customer update", func(t *testing.T) { testCustomerUpdate(t, open(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, open(t)) })
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	u, err := s.UpsertUser(ctx, store.User{ID: 1, Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.False(t, u.Banned)

	u, err = s.UpsertUser(ctx, store.User{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username, "empty username keeps the stored one")

	u, err = s.UpsertUser(ctx, store.User{ID: 1, Username: "alice2"})
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)

	u, err = s.SetUserBanned(ctx, 1, true)
	require.NoError(t, err)
	assert.True(t, u.Banned)

	u, err = s.UpsertUser(ctx, store.User{ID: 1, Username: "alice3"})
	require.NoError(t, err)
	assert.True(t, u.Banned, "upsert keeps the ban flag")

	_, err = s.SetUserBanned(ctx, 99, true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.UpsertUser(ctx, store.User{ID: 2, Username: "bob"})
	require.NoError(t, err)
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	ids := []int64{users[0].ID, users[1].ID}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func testOperators(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.AddOperator(ctx, 10, store.RoleOperator)
	assert.ErrorIs(t, err, store.ErrNotFound, "operator requires a user record")

	_, err = s.UpsertUser(ctx, store.User{ID: 10, Username: "staff"})
	require.NoError(t, err)

	op, err := s.AddOperator(ctx, 10, store.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, int64(10), op.UserID)
	assert.Equal(t, store.RoleOperator, op.Role)

	_, err = s.AddOperator(ctx, 10, store.RoleOperator)
	require.NoError(t, err)

	got, err := s.GetOperator(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.UserID)

	_, err = s.GetOperator(ctx, 11)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ops, err := s.ListOperators(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func testCustomers(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateCustomer(ctx, store.Customer{UserID: 1, Phone: "79990001122"})
	assert.ErrorIs(t, err, store.ErrNotFound, "customer requires a user record")

	for _, id := range []int64{1, 2} {
		_, err := s.UpsertUser(ctx, store.User{ID: id})
		require.NoError(t, err)
	}

	c, err := s.CreateCustomer(ctx, store.Customer{UserID: 1, Phone: "79990001122", FirstName: "Ivan"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, int64(1), c.UserID)
	assert.Equal(t, "Ivan", c.FirstName)

	_, err = s.CreateCustomer(ctx, store.Customer{UserID: 2, Phone: "79990001122"})
	assert.ErrorIs(t, err, store.ErrDuplicate, "phone is unique")

	_, err = s.CreateCustomer(ctx, store.Customer{UserID: 1, Phone: "79990003344"})
	assert.ErrorIs(t, err, store.ErrDuplicate, "one customer per user")

	byID, err := s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Phone, byID.Phone)

	byUser, err := s.GetCustomerByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ID, byUser.ID)

	byPhone, err := s.GetCustomerByPhone(ctx, "79990001122")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byPhone.ID)

	_, err = s.GetCustomerByUserID(ctx, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetCustomerByPhone(ctx, "70000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetCustomer(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)

	customers, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, c.ID, customers[0].ID)
}

func testCustomerUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := s.UpsertUser(ctx, store.User{ID: id})
		require.NoError(t, err)
	}
	first, err := s.CreateCustomer(ctx, store.Customer{UserID: 1, Phone: "71110000001"})
	require.NoError(t, err)
	second, err := s.CreateCustomer(ctx, store.Customer{UserID: 2, Phone: "71110000002"})
	require.NoError(t, err)

	name := "Ivan"
	updated, err := s.UpdateCustomer(ctx, first.ID, store.CustomerUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ivan", updated.FirstName)
	assert.Equal(t, "71110000001", updated.Phone)

	last := "Petrov"
	updated, err = s.UpdateCustomer(ctx, first.ID, store.CustomerUpdate{LastName: &last})
	require.NoError(t, err)
	assert.Equal(t, "Ivan", updated.FirstName)
	assert.Equal(t, "Petrov", updated.LastName)

	taken := second.Phone
	_, err = s.UpdateCustomer(ctx, first.ID, store.CustomerUpdate{Phone: &taken})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	phone := "71110000003"
	updated, err = s.UpdateCustomer(ctx, first.ID, store.CustomerUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)

	byPhone, err := s.GetCustomerByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byPhone.ID)
	_, err = s.GetCustomerByPhone(ctx, "71110000001")
	assert.ErrorIs(t, err, store.ErrNotFound, "old phone is released")

	_, err = s.UpdateCustomer(ctx, "00000000-0000-0000-0000-000000000000", store.CustomerUpdate{FirstName: &name})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateMessage(ctx, store.Message{UserID: 1, SupportChatMessageID: 100})
	assert.ErrorIs(t, err, store.ErrNotFound, "message requires a user record")

	_, err = s.UpsertUser(ctx, store.User{ID: 1})
	require.NoError(t, err)

	m1, err := s.CreateMessage(ctx, store.Message{UserID: 1, SupportChatMessageID: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, m1.ID)
	assert.False(t, m1.Answered)

	m2, err := s.CreateMessage(ctx, store.Message{UserID: 1, SupportChatMessageID: 101})
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, store.Message{UserID: 1, SupportChatMessageID: 100})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetMessageBySupportChatID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, got.ID)
	_, err = s.GetMessageBySupportChatID(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	updated, err := s.SetMessageAnswered(ctx, m1.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Answered)

	got, err = s.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, got.Answered)

	unanswered, err := s.ListUnansweredMessages(ctx)
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	assert.Equal(t, m2.ID, unanswered[0].ID)

	_, err = s.SetMessageAnswered(ctx, "00000000-0000-0000-0000-000000000000", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
