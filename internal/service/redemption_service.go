package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/infrastructure/lock"
	"loyaltyledger/internal/model"
	"loyaltyledger/internal/repository"
	"loyaltyledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// RedemptionService 积分兑换与过期清扫
// 自己不直接写账，校验通过后以负数金额委托 EarningService 落账
type RedemptionService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	earning         *EarningService
	customerRepo    *repository.CustomerRepository
	transactionRepo *repository.TransactionRepository
}

func NewRedemptionService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, earning *EarningService) *RedemptionService {
	return &RedemptionService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		earning:         earning,
		customerRepo:    repository.NewCustomerRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// RedeemRequest 兑换请求
type RedeemRequest struct {
	CustomerID  int64
	Points      int64 // 正数，实际落账金额为 -Points
	Description string
}

// Redeem 客户兑换积分
//
// 余额够不够这里先查一遍快速失败，真正的保证在 EarningService 的
// 乐观锁条件更新里 —— 两次检查之间余额可能被并发写改掉，
// 届时条件更新失败重试后会再次得到 ErrInsufficientBalance
func (s *RedemptionService) Redeem(ctx context.Context, req *RedeemRequest) (*model.PointTransaction, error) {
	if req.Points <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Description == "" {
		return nil, ErrMissingDescription
	}

	// 快速失败：客户不存在或余额明显不足时不进入写路径
	customer, err := s.customerRepo.GetByCustomerID(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer.LoyaltyPoints < req.Points {
		return nil, repository.ErrInsufficientBalance
	}

	// 按客户维度加锁降低乐观锁冲突概率（正确性不依赖这把锁，
	// 未配置 Redis 的部署直接走乐观锁重试）
	if s.redisClient != nil {
		redeemLock := lock.NewRedeemLock(s.redisClient, req.CustomerID, idgen.GenerateTransactionNo())
		if err := redeemLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer redeemLock.Unlock(ctx)
	}

	return s.earning.Record(ctx, &RecordRequest{
		CustomerID:  req.CustomerID,
		Type:        model.TransactionTypeSpent,
		Amount:      -req.Points,
		Description: req.Description,
	})
}

// ExpirePoints 过期清扫：找出到期未处理的 EARNED 流水逐笔冲销
//
// 【关键点】
// 1. 每笔冲销独立成事务：is_expired 置位和 EXPIRED 反向流水同时可见或同时不可见
// 2. 幂等：置位是 false→true 的 CAS，重复清扫（并发或先后）抢不到置位的一方直接跳过
// 3. 容错：单笔失败记日志继续处理下一笔，不中断整个批次
//
// 返回本次成功冲销的笔数
func (s *RedemptionService) ExpirePoints(ctx context.Context) (int, error) {
	batchSize := s.cfg.Business.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	candidates, err := s.transactionRepo.FindExpirable(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("查询到期流水失败: %w", err)
	}

	expired := 0
	for _, trans := range candidates {
		if err := s.expireOne(ctx, trans); err != nil {
			if errors.Is(err, repository.ErrTransactionExpired) {
				// 已被其他清扫进程处理，不算失败
				continue
			}
			log.Printf("[ExpirePoints] 冲销失败: transactionNo=%s, err=%v", trans.TransactionNo, err)
			continue
		}
		expired++
	}

	return expired, nil
}

// expireOne 冲销单笔到期流水：CAS 置位 + 写入等额反向的 EXPIRED 流水
func (s *RedemptionService) expireOne(ctx context.Context, trans *model.PointTransaction) error {
	retries := s.cfg.Business.WriteRetryCount
	if retries <= 0 {
		retries = 3
	}

	for i := 0; i < retries; i++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.transactionRepo.MarkExpired(ctx, tx, trans.TransactionNo); err != nil {
				return err
			}

			_, err := s.earning.RecordInTx(ctx, tx, &RecordRequest{
				CustomerID:  trans.CustomerID,
				Type:        model.TransactionTypeExpired,
				Amount:      -trans.Amount,
				Description: fmt.Sprintf("积分过期冲销-%s", trans.TransactionNo),
				OrderNo:     trans.OrderNo,
			})
			return err
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrOptimisticLock) {
			// 余额被并发写抢先更新，整个事务回滚后重试
			continue
		}
		return err
	}

	return repository.ErrOptimisticLock
}
