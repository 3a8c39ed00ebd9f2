package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/model"
	"loyaltyledger/internal/repository"
	"loyaltyledger/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrInvalidAmount      = errors.New("积分数量必须为正数")
	ErrZeroAmount         = errors.New("积分变动不能为0")
	ErrInvalidType        = errors.New("流水类型不合法")
	ErrMissingDescription = errors.New("变动原因不能为空")
	ErrExpiryNotAllowed   = errors.New("只有 EARNED 流水可以携带过期时间")
)

// EarningService 积分账本的唯一写入路径
// 兑换、过期冲销、管理员调整全部经由这里落账，
// "读余额 -> 算新余额 -> 写流水 + 写余额" 是一个原子单元
type EarningService struct {
	db              *gorm.DB
	cfg             *config.Config
	customerRepo    *repository.CustomerRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewEarningService(db *gorm.DB, cfg *config.Config) *EarningService {
	return &EarningService{
		db:              db,
		cfg:             cfg,
		customerRepo:    repository.NewCustomerRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// RecordRequest 记账请求
type RecordRequest struct {
	CustomerID  int64
	Type        string
	Amount      int64 // 带符号，正数入账负数出账
	Description string
	OrderNo     string
	ExpiresAt   *time.Time
}

func (req *RecordRequest) validate() error {
	if !model.IsValidTransactionType(req.Type) {
		return ErrInvalidType
	}
	if req.Amount == 0 {
		return ErrZeroAmount
	}
	if req.Description == "" {
		return ErrMissingDescription
	}
	if req.ExpiresAt != nil && req.Type != model.TransactionTypeEarned {
		return ErrExpiryNotAllowed
	}
	return nil
}

// Record 追加一笔积分流水并同步调整客户余额
//
// 【关键点】整个系统最核心的操作，需要保证：
//  1. 原子性：流水写入、余额更新、事件落库必须同时成功或同时失败
//  2. 并发安全：余额更新带乐观锁版本校验，两个并发写只有一个能提交，
//     失败方在这里重读重算，有限次重试后向调用方返回冲突
//  3. 余额永不为负：balance_after < 0 时直接拒绝，不产生任何写入
func (s *EarningService) Record(ctx context.Context, req *RecordRequest) (*model.PointTransaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	retries := s.cfg.Business.WriteRetryCount
	if retries <= 0 {
		retries = 3
	}

	for i := 0; i < retries; i++ {
		var trans *model.PointTransaction
		err := s.db.Transaction(func(tx *gorm.DB) error {
			t, err := s.RecordInTx(ctx, tx, req)
			if err != nil {
				return err
			}
			trans = t
			return nil
		})
		if err == nil {
			return trans, nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return nil, err
		}
		// 并发写抢先提交，重读余额再试
		log.Printf("[EarningService] 乐观锁冲突，第 %d 次重试: customerID=%d", i+1, req.CustomerID)
	}

	return nil, repository.ErrOptimisticLock
}

// RecordInTx 在调用方事务内执行一次记账（不重试，冲突原样返回）
// 过期清扫在翻转 is_expired 的同一事务里走这条路径，保证翻转和冲销同生共死
func (s *EarningService) RecordInTx(ctx context.Context, tx *gorm.DB, req *RecordRequest) (*model.PointTransaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	customer, err := s.customerRepo.GetByCustomerIDTx(ctx, tx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	balanceBefore := customer.LoyaltyPoints
	balanceAfter := balanceBefore + req.Amount
	if balanceAfter < 0 {
		return nil, repository.ErrInsufficientBalance
	}

	if err := s.customerRepo.ApplyDelta(ctx, tx, req.CustomerID, req.Amount, customer.Version); err != nil {
		return nil, err
	}

	trans := &model.PointTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		CustomerID:    req.CustomerID,
		Type:          req.Type,
		Amount:        req.Amount,
		OrderNo:       req.OrderNo,
		Description:   req.Description,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	// transaction.created 事件随流水同事务落库，由后台任务异步投递
	msgPayload := map[string]interface{}{
		"transaction_no": trans.TransactionNo,
		"customer_id":    trans.CustomerID,
		"type":           trans.Type,
		"amount":         trans.Amount,
		"balance":        trans.BalanceAfter,
		"created_at":     time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(msgPayload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      s.cfg.Kafka.Topic.TransactionCreated,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return nil, fmt.Errorf("写入事件失败: %w", err)
	}

	return trans, nil
}

// AwardPoints 发放积分的便捷入口，强制 EARNED 且数量为正
func (s *EarningService) AwardPoints(ctx context.Context, customerID, amount int64, description, orderNo string, expiresAt *time.Time) (*model.PointTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return s.Record(ctx, &RecordRequest{
		CustomerID:  customerID,
		Type:        model.TransactionTypeEarned,
		Amount:      amount,
		Description: description,
		OrderNo:     orderNo,
		ExpiresAt:   expiresAt,
	})
}
