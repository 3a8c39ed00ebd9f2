package repository

import (
	"context"
	"testing"

	"loyaltyledger/internal/model"
	"loyaltyledger/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedCustomer(t *testing.T, db *gorm.DB, customerID, points int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.Customer{
		CustomerID:    customerID,
		LoyaltyPoints: points,
		Tier:          "NORMAL",
	}).Error)
}

func TestCustomerCreateIdempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCustomerRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Customer{CustomerID: 1001, LoyaltyPoints: 10}))
	// 同 customer_id 再建一次走 DoNothing，不报错也不覆盖
	require.NoError(t, repo.Create(ctx, &model.Customer{CustomerID: 1001, LoyaltyPoints: 999}))

	customer, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(10), customer.LoyaltyPoints)
}

func TestGetByCustomerIDNotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCustomerRepository(db)

	_, err := repo.GetByCustomerID(context.Background(), 9999)
	require.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestApplyDelta(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCustomerRepository(db)
	ctx := context.Background()
	seedCustomer(t, db, 1001, 100)

	customer, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)

	require.NoError(t, repo.ApplyDelta(ctx, nil, 1001, -30, customer.Version))

	updated, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(70), updated.LoyaltyPoints)
	require.Equal(t, customer.Version+1, updated.Version)
}

// 拿着过期版本号写入必须失败，余额不变
func TestApplyDeltaStaleVersion(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCustomerRepository(db)
	ctx := context.Background()
	seedCustomer(t, db, 1001, 100)

	customer, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)

	// 另一个写入方先提交，版本号前进
	require.NoError(t, repo.ApplyDelta(ctx, nil, 1001, -10, customer.Version))

	err = repo.ApplyDelta(ctx, nil, 1001, -10, customer.Version)
	require.ErrorIs(t, err, ErrOptimisticLock)

	updated, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(90), updated.LoyaltyPoints)
}

func TestApplyDeltaInsufficientBalance(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCustomerRepository(db)
	ctx := context.Background()
	seedCustomer(t, db, 1001, 50)

	customer, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)

	err = repo.ApplyDelta(ctx, nil, 1001, -80, customer.Version)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	updated, err := repo.GetByCustomerID(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(50), updated.LoyaltyPoints)
	require.Equal(t, customer.Version, updated.Version)
}

func TestListCustomerIDs(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewCustomerRepository(db)
	ctx := context.Background()

	for _, id := range []int64{1003, 1001, 1002} {
		seedCustomer(t, db, id, 0)
	}

	ids, err := repo.ListCustomerIDs(ctx, 0, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1001, 1002}, ids)

	ids, err = repo.ListCustomerIDs(ctx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1003}, ids)
}
