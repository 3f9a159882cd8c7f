package service

import (
	"context"
	"testing"

	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	mailer := &testutil.Mailer{}
	svc := NewAccountService(db, NewNotificationService(db, mailer, nil, cfg), cfg)
	u := testutil.CreateUser(t, db, "marisol")
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", u.ID).
		UpdateColumn("available_balance_mxn", decimal.RequireFromString("300")).Error)

	_, err := svc.Withdraw(ctx, u.ID, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Withdraw(ctx, u.ID, decimal.RequireFromString("300.01"))
	assert.ErrorIs(t, err, ErrBalanceNotEnough)

	res, err := svc.Withdraw(ctx, u.ID, decimal.RequireFromString("120.50"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("179.50").Equal(res.AvailableBalance))
	assert.Equal(t, model.TransactionTypeWithdrawal, res.Transaction.Type)
	assert.NotEmpty(t, res.Transaction.TransactionNo)
	assert.Equal(t, 1, mailer.Count())

	bal, err := svc.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("179.50").Equal(bal.AvailableBalance))
	assert.True(t, decimal.RequireFromString("120.50").Equal(bal.TotalWithdrawn))
	assert.True(t, bal.TotalEarned.IsZero())

	list, total, err := svc.Transactions(ctx, u.ID, model.TransactionTypeWithdrawal, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)

	_, _, err = svc.Transactions(ctx, u.ID, "refund", repository.Page{})
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	other := testutil.CreateUser(t, db, "tomas")
	_, err = svc.Transaction(ctx, other.ID, list[0].ID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	got, err := svc.Transaction(ctx, u.ID, list[0].ID)
	require.NoError(t, err)
	require.True(t, got.BalanceAfter.Valid)
	assert.True(t, decimal.RequireFromString("179.50").Equal(got.BalanceAfter.Decimal))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	svc := NewAccountService(db, nil, cfg)
	u := testutil.CreateUser(t, db, "marisol")

	city := "Guadalajara"
	updated, err := svc.UpdateProfile(ctx, u.ID, &UpdateProfileRequest{City: &city})
	require.NoError(t, err)
	assert.Equal(t, "Guadalajara", updated.City)
	assert.Equal(t, u.Email, updated.Email)

	_, err = svc.Profile(ctx, 999999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
