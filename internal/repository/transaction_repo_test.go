package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"loyaltyledger/internal/model"
	"loyaltyledger/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedTransaction(t *testing.T, db *gorm.DB, no string, customerID int64, transType string, amount int64, expiresAt *time.Time) *model.PointTransaction {
	t.Helper()
	trans := &model.PointTransaction{
		TransactionNo: no,
		CustomerID:    customerID,
		Type:          transType,
		Amount:        amount,
		Description:   "test",
		ExpiresAt:     expiresAt,
	}
	require.NoError(t, db.Create(trans).Error)
	return trans
}

func TestGetByTransactionNo(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	seedTransaction(t, db, "PTX1", 1001, model.TransactionTypeEarned, 100, nil)

	trans, err := repo.GetByTransactionNo(ctx, "PTX1")
	require.NoError(t, err)
	require.Equal(t, int64(100), trans.Amount)

	_, err = repo.GetByTransactionNo(ctx, "PTX404")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestListFilters(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	seedTransaction(t, db, "PTX1", 1001, model.TransactionTypeEarned, 100, nil)
	seedTransaction(t, db, "PTX2", 1001, model.TransactionTypeSpent, -40, nil)
	seedTransaction(t, db, "PTX3", 1002, model.TransactionTypeEarned, 60, nil)

	spent := seedTransaction(t, db, "PTX4", 1001, model.TransactionTypeSpent, -10, nil)
	spent.OrderNo = "ORD-7"
	require.NoError(t, db.Save(spent).Error)

	list, total, err := repo.List(ctx, &TransactionFilter{CustomerID: 1001})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, list, 3)

	list, total, err = repo.List(ctx, &TransactionFilter{Type: model.TransactionTypeSpent})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	list, total, err = repo.List(ctx, &TransactionFilter{OrderNo: "ORD-7"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "PTX4", list[0].TransactionNo)
}

// 白名单外的排序字段回落到 created_at，不能出错
func TestListSortWhitelist(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	seedTransaction(t, db, "PTX1", 1001, model.TransactionTypeEarned, 30, nil)
	seedTransaction(t, db, "PTX2", 1001, model.TransactionTypeEarned, 10, nil)
	seedTransaction(t, db, "PTX3", 1001, model.TransactionTypeEarned, 20, nil)

	list, _, err := repo.List(ctx, &TransactionFilter{SortBy: "amount"})
	require.NoError(t, err)
	require.Equal(t, int64(10), list[0].Amount)
	require.Equal(t, int64(30), list[2].Amount)

	_, _, err = repo.List(ctx, &TransactionFilter{SortBy: "amount; DROP TABLE point_transaction"})
	require.NoError(t, err)
}

func TestListPagination(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedTransaction(t, db, fmt.Sprintf("PTX%d", i), 1001, model.TransactionTypeEarned, int64(i+1), nil)
	}

	list, total, err := repo.List(ctx, &TransactionFilter{
		CustomerID: 1001,
		SortBy:     "amount",
		Page:       2,
		PageSize:   2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, list, 2)
	require.Equal(t, int64(3), list[0].Amount)
}

func TestFindExpirable(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	seedTransaction(t, db, "PTX1", 1001, model.TransactionTypeEarned, 50, &past)
	seedTransaction(t, db, "PTX2", 1001, model.TransactionTypeEarned, 30, &future)
	seedTransaction(t, db, "PTX3", 1001, model.TransactionTypeEarned, 20, nil)
	seedTransaction(t, db, "PTX4", 1001, model.TransactionTypeSpent, -10, &past)

	// 已处理过的不再捞出
	done := seedTransaction(t, db, "PTX5", 1001, model.TransactionTypeEarned, 40, &past)
	require.NoError(t, db.Model(done).Update("is_expired", true).Error)

	list, err := repo.FindExpirable(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "PTX1", list[0].TransactionNo)
}

func TestMarkExpiredCAS(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	seedTransaction(t, db, "PTX1", 1001, model.TransactionTypeEarned, 50, &past)

	require.NoError(t, repo.MarkExpired(ctx, nil, "PTX1"))

	// 第二次置位必须失败，双清扫只有一方能赢
	err := repo.MarkExpired(ctx, nil, "PTX1")
	require.ErrorIs(t, err, ErrTransactionExpired)

	err = repo.MarkExpired(ctx, nil, "PTX404")
	require.ErrorIs(t, err, ErrTransactionExpired)
}

func TestSumAmountByCustomer(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	seedTransaction(t, db, "PTX1", 1001, model.TransactionTypeEarned, 100, nil)
	seedTransaction(t, db, "PTX2", 1001, model.TransactionTypeSpent, -40, nil)
	seedTransaction(t, db, "PTX3", 1002, model.TransactionTypeEarned, 999, nil)

	sum, err := repo.SumAmountByCustomer(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(60), sum)

	// 没有流水的客户返回 0 而不是报错
	sum, err = repo.SumAmountByCustomer(ctx, 9999)
	require.NoError(t, err)
	require.Zero(t, sum)
}
