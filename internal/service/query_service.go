package service

import (
	"context"
	"errors"
	"time"

	"loyaltyledger/internal/model"
	"loyaltyledger/internal/repository"

	"gorm.io/gorm"
)

var ErrInvalidDaysAhead = errors.New("daysAhead 必须为非负整数")

// QueryService 积分账本只读查询
// 任何查询都不改变余额和流水状态
type QueryService struct {
	customerRepo    *repository.CustomerRepository
	transactionRepo *repository.TransactionRepository
}

func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{
		customerRepo:    repository.NewCustomerRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// BalanceInfo 余额查询结果
type BalanceInfo struct {
	CustomerID int64  `json:"customer_id"`
	Balance    int64  `json:"balance"`
	Tier       string `json:"tier"`
}

// TransactionPage 分页查询结果
type TransactionPage struct {
	Data  []*model.PointTransaction `json:"data"`
	Total int64                     `json:"total"`
	Page  int                       `json:"page"`
	Limit int                       `json:"limit"`
}

// ExpiringPoints 即将过期的积分汇总
type ExpiringPoints struct {
	ExpiringPoints int64                     `json:"expiring_points"`
	Transactions   []*model.PointTransaction `json:"transactions"`
}

func (s *QueryService) GetBalance(ctx context.Context, customerID int64) (*BalanceInfo, error) {
	customer, err := s.customerRepo.GetByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return &BalanceInfo{
		CustomerID: customer.CustomerID,
		Balance:    customer.LoyaltyPoints,
		Tier:       customer.Tier,
	}, nil
}

// FindAll 组合条件分页查询流水，默认按 created_at 倒序
func (s *QueryService) FindAll(ctx context.Context, filter *repository.TransactionFilter) (*TransactionPage, error) {
	if filter.SortBy == "" {
		filter.SortBy = "created_at"
		filter.SortDesc = true
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}

	transactions, total, err := s.transactionRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &TransactionPage{
		Data:  transactions,
		Total: total,
		Page:  filter.Page,
		Limit: filter.PageSize,
	}, nil
}

func (s *QueryService) FindOne(ctx context.Context, transactionNo string) (*model.PointTransaction, error) {
	return s.transactionRepo.GetByTransactionNo(ctx, transactionNo)
}

// GetExpiringPoints 统计 [now, now+daysAhead天] 内将过期的积分，最早过期的排在前面
func (s *QueryService) GetExpiringPoints(ctx context.Context, customerID int64, daysAhead int) (*ExpiringPoints, error) {
	if daysAhead < 0 {
		return nil, ErrInvalidDaysAhead
	}

	// 客户不存在时与余额查询保持一致的 NotFound 语义
	if _, err := s.customerRepo.GetByCustomerID(ctx, customerID); err != nil {
		return nil, err
	}

	now := time.Now()
	to := now.Add(time.Duration(daysAhead) * 24 * time.Hour)

	transactions, err := s.transactionRepo.FindExpiringBetween(ctx, customerID, now, to)
	if err != nil {
		return nil, err
	}

	var sum int64
	for _, trans := range transactions {
		sum += trans.Amount
	}

	return &ExpiringPoints{
		ExpiringPoints: sum,
		Transactions:   transactions,
	}, nil
}
