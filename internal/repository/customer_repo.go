package repository

import (
	"context"
	"errors"

	"loyaltyledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCustomerNotFound    = errors.New("客户不存在")
	ErrInsufficientBalance = errors.New("积分不足")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
	ErrTransactionNotFound = errors.New("积分流水不存在")
	ErrTransactionExpired  = errors.New("流水已被过期处理")
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, customer *model.Customer) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			DoNothing: true,
		}).
		Create(customer).Error
}

func (r *CustomerRepository) GetByCustomerID(ctx context.Context, customerID int64) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// GetByCustomerIDTx 事务内读取客户（配合 ApplyDelta 的乐观锁校验使用）
func (r *CustomerRepository) GetByCustomerIDTx(ctx context.Context, tx *gorm.DB, customerID int64) (*model.Customer, error) {
	if tx == nil {
		tx = r.db
	}
	var customer model.Customer
	err := tx.WithContext(ctx).Where("customer_id = ?", customerID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// ApplyDelta 按读到的版本号条件更新积分余额
//
// 【关键点】条件更新一次性带上三个约束：
//  1. version 必须等于调用方读到的版本 —— 防止并发写覆盖（读-算-写竞态）
//  2. loyalty_points + delta >= 0 —— 余额永不为负
//  3. 更新成功则 version + 1
//
// RowsAffected == 0 时回读账户区分失败原因：
// 余额确实不够 -> ErrInsufficientBalance；否则是并发冲突 -> ErrOptimisticLock
func (r *CustomerRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, customerID int64, delta int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("customer_id = ? AND version = ? AND loyalty_points + ? >= 0", customerID, version, delta).
		Updates(map[string]interface{}{
			"loyalty_points": gorm.Expr("loyalty_points + ?", delta),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		customer, err := r.GetByCustomerID(ctx, customerID)
		if err != nil {
			return err
		}
		if customer.LoyaltyPoints+delta < 0 {
			return ErrInsufficientBalance
		}
		return ErrOptimisticLock
	}

	return nil
}

// ListCustomerIDs 分页返回所有客户ID（对账任务用）
func (r *CustomerRepository) ListCustomerIDs(ctx context.Context, offset, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Order("customer_id ASC").
		Offset(offset).
		Limit(limit).
		Pluck("customer_id", &ids).Error
	return ids, err
}
