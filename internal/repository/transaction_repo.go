package repository

import (
	"context"
	"errors"
	"time"

	"loyaltyledger/internal/model"

	"gorm.io/gorm"
)

// TransactionFilter 流水列表查询条件，零值字段不参与过滤
type TransactionFilter struct {
	CustomerID  int64
	Type        string
	OrderNo     string
	IsExpired   *bool
	Description string // 模糊匹配
	SortBy      string // 默认 created_at
	SortDesc    bool
	Page        int // 1 起始
	PageSize    int
}

// 允许排序的字段白名单，防止拼接注入
var allowedSortFields = map[string]string{
	"created_at":     "created_at",
	"amount":         "amount",
	"type":           "type",
	"expires_at":     "expires_at",
	"balance_after":  "balance_after",
	"transaction_no": "transaction_no",
	"customer_id":    "customer_id",
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.PointTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.PointTransaction, error) {
	var trans model.PointTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// List 组合条件查询流水，返回当前页数据和总数
func (r *TransactionRepository) List(ctx context.Context, filter *TransactionFilter) ([]*model.PointTransaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.PointTransaction{})

	if filter.CustomerID > 0 {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.OrderNo != "" {
		query = query.Where("order_no = ?", filter.OrderNo)
	}
	if filter.IsExpired != nil {
		query = query.Where("is_expired = ?", *filter.IsExpired)
	}
	if filter.Description != "" {
		query = query.Where("description LIKE ?", "%"+filter.Description+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortField, ok := allowedSortFields[filter.SortBy]
	if !ok {
		sortField = "created_at"
	}
	order := sortField + " ASC"
	if filter.SortDesc {
		order = sortField + " DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	var transactions []*model.PointTransaction
	err := query.
		Order(order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// FindExpirable 查询可被过期冲销的 EARNED 流水（expires_at 已到且未处理）
func (r *TransactionRepository) FindExpirable(ctx context.Context, now time.Time, limit int) ([]*model.PointTransaction, error) {
	var transactions []*model.PointTransaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND is_expired = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			model.TransactionTypeEarned, false, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// FindExpiringBetween 查询指定时间窗口内将要过期、尚未冲销的 EARNED 流水（最早过期在前）
func (r *TransactionRepository) FindExpiringBetween(ctx context.Context, customerID int64, from, to time.Time) ([]*model.PointTransaction, error) {
	var transactions []*model.PointTransaction
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND type = ? AND is_expired = ? AND expires_at IS NOT NULL AND expires_at >= ? AND expires_at <= ?",
			customerID, model.TransactionTypeEarned, false, from, to).
		Order("expires_at ASC").
		Find(&transactions).Error
	return transactions, err
}

// MarkExpired 将流水置为已过期
//
// 【关键点】带 is_expired = false 条件的 CAS 更新：
// 两个清扫进程同时处理同一笔流水时只有一个能置位成功，
// 失败方收到 ErrTransactionExpired 并跳过，保证同一笔积分不会被双重冲销
func (r *TransactionRepository) MarkExpired(ctx context.Context, tx *gorm.DB, transactionNo string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PointTransaction{}).
		Where("transaction_no = ? AND is_expired = ?", transactionNo, false).
		Update("is_expired", true)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTransactionExpired
	}

	return nil
}

// SumAmountByCustomer 汇总客户全部流水金额（对账用）
func (r *TransactionRepository) SumAmountByCustomer(ctx context.Context, customerID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.PointTransaction{}).
		Where("customer_id = ?", customerID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
