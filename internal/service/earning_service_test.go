package service

import (
	"context"
	"testing"
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/model"
	"loyaltyledger/internal/repository"
	"loyaltyledger/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				TransactionCreated: "loyalty.transaction.created",
			},
		},
		Business: config.BusinessConfig{
			WriteRetryCount: 3,
			MaxRetryCount:   3,
			SweepBatchSize:  100,
		},
	}
}

// newTestCustomer 建客户账户，返回 customerID
func newTestCustomer(t *testing.T, db *gorm.DB, customerID, points int64) int64 {
	t.Helper()
	err := db.Create(&model.Customer{
		CustomerID:    customerID,
		LoyaltyPoints: points,
		Tier:          "GOLD",
	}).Error
	require.NoError(t, err)
	return customerID
}

func assertBalanceConsistent(t *testing.T, db *gorm.DB, customerID int64) {
	t.Helper()
	ctx := context.Background()

	customer, err := repository.NewCustomerRepository(db).GetByCustomerID(ctx, customerID)
	require.NoError(t, err)

	sum, err := repository.NewTransactionRepository(db).SumAmountByCustomer(ctx, customerID)
	require.NoError(t, err)

	require.Equal(t, sum, customer.LoyaltyPoints, "余额必须等于流水金额之和")
}

func TestAwardPoints(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())
	customerID := newTestCustomer(t, db, 1001, 0)

	trans, err := svc.AwardPoints(context.Background(), customerID, 100, "order reward", "ORD001", nil)
	require.NoError(t, err)

	require.Equal(t, model.TransactionTypeEarned, trans.Type)
	require.Equal(t, int64(100), trans.Amount)
	require.Equal(t, int64(0), trans.BalanceBefore)
	require.Equal(t, int64(100), trans.BalanceAfter)
	require.Equal(t, "ORD001", trans.OrderNo)
	require.NotEmpty(t, trans.TransactionNo)

	info, err := repository.NewCustomerRepository(db).GetByCustomerID(context.Background(), customerID)
	require.NoError(t, err)
	require.Equal(t, int64(100), info.LoyaltyPoints)

	assertBalanceConsistent(t, db, customerID)
}

func TestAwardPointsRejectsNonPositive(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())
	customerID := newTestCustomer(t, db, 1001, 0)

	_, err := svc.AwardPoints(context.Background(), customerID, 0, "zero", "", nil)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.AwardPoints(context.Background(), customerID, -10, "negative", "", nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRecordValidation(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())
	customerID := newTestCustomer(t, db, 1001, 100)
	expiry := time.Now().Add(24 * time.Hour)

	cases := []struct {
		name string
		req  *RecordRequest
		want error
	}{
		{"零金额", &RecordRequest{CustomerID: customerID, Type: model.TransactionTypeEarned, Amount: 0, Description: "x"}, ErrZeroAmount},
		{"非法类型", &RecordRequest{CustomerID: customerID, Type: "BONUS", Amount: 10, Description: "x"}, ErrInvalidType},
		{"缺少原因", &RecordRequest{CustomerID: customerID, Type: model.TransactionTypeEarned, Amount: 10}, ErrMissingDescription},
		{"非EARNED带过期时间", &RecordRequest{CustomerID: customerID, Type: model.TransactionTypeSpent, Amount: -10, Description: "x", ExpiresAt: &expiry}, ErrExpiryNotAllowed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Record(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRecordCustomerNotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())

	_, err := svc.Record(context.Background(), &RecordRequest{
		CustomerID:  9999,
		Type:        model.TransactionTypeEarned,
		Amount:      10,
		Description: "ghost",
	})
	require.ErrorIs(t, err, repository.ErrCustomerNotFound)
}

func TestRecordRejectsNegativeBalance(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())
	customerID := newTestCustomer(t, db, 1001, 30)

	_, err := svc.Record(context.Background(), &RecordRequest{
		CustomerID:  customerID,
		Type:        model.TransactionTypeAdminAdjustment,
		Amount:      -50,
		Description: "manual correction",
	})
	require.ErrorIs(t, err, repository.ErrInsufficientBalance)

	// 失败时不能留下任何写入
	var count int64
	require.NoError(t, db.Model(&model.PointTransaction{}).Count(&count).Error)
	require.Zero(t, count)

	info, err := repository.NewCustomerRepository(db).GetByCustomerID(context.Background(), customerID)
	require.NoError(t, err)
	require.Equal(t, int64(30), info.LoyaltyPoints)
}

func TestRecordWritesOutboxEvent(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())
	customerID := newTestCustomer(t, db, 1001, 0)

	trans, err := svc.AwardPoints(context.Background(), customerID, 88, "event check", "", nil)
	require.NoError(t, err)

	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg).Error)
	require.Equal(t, "loyalty.transaction.created", msg.Topic)
	require.Equal(t, trans.TransactionNo, msg.MessageKey)
	require.Equal(t, model.OutboxStatusPending, msg.Status)
	require.Contains(t, msg.Payload, `"balance":88`)
}

func TestBalanceConsistencyAfterMixedWrites(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewEarningService(db, testConfig())
	customerID := newTestCustomer(t, db, 1001, 0)
	ctx := context.Background()

	_, err := svc.AwardPoints(ctx, customerID, 200, "award", "", nil)
	require.NoError(t, err)

	_, err = svc.Record(ctx, &RecordRequest{
		CustomerID: customerID, Type: model.TransactionTypeSpent,
		Amount: -70, Description: "spend",
	})
	require.NoError(t, err)

	_, err = svc.Record(ctx, &RecordRequest{
		CustomerID: customerID, Type: model.TransactionTypeRefunded,
		Amount: 70, Description: "refund",
	})
	require.NoError(t, err)

	_, err = svc.Record(ctx, &RecordRequest{
		CustomerID: customerID, Type: model.TransactionTypeAdminAdjustment,
		Amount: -50, Description: "adjust down",
	})
	require.NoError(t, err)

	assertBalanceConsistent(t, db, customerID)

	// 最后一笔流水的 balance_after 必须等于当前余额
	var last model.PointTransaction
	require.NoError(t, db.Order("id DESC").First(&last).Error)
	info, err := repository.NewCustomerRepository(db).GetByCustomerID(ctx, customerID)
	require.NoError(t, err)
	require.Equal(t, info.LoyaltyPoints, last.BalanceAfter)
}
