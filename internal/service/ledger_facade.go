package service

import (
	"context"
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/model"
	"loyaltyledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// LedgerService 积分账本对外的统一门面
// 只做路由不做业务，请求层只依赖它，三个子服务可以独立测试和演进
type LedgerService struct {
	earning    *EarningService
	redemption *RedemptionService
	query      *QueryService
}

func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *LedgerService {
	earning := NewEarningService(db, cfg)
	return &LedgerService{
		earning:    earning,
		redemption: NewRedemptionService(db, redisClient, cfg, earning),
		query:      NewQueryService(db),
	}
}

// Create 管理员直接记账（类型由调用方指定）
func (s *LedgerService) Create(ctx context.Context, req *RecordRequest) (*model.PointTransaction, error) {
	return s.earning.Record(ctx, req)
}

func (s *LedgerService) AwardPoints(ctx context.Context, customerID, amount int64, description, orderNo string, expiresAt *time.Time) (*model.PointTransaction, error) {
	return s.earning.AwardPoints(ctx, customerID, amount, description, orderNo, expiresAt)
}

func (s *LedgerService) RedeemPoints(ctx context.Context, req *RedeemRequest) (*model.PointTransaction, error) {
	return s.redemption.Redeem(ctx, req)
}

func (s *LedgerService) ExpirePoints(ctx context.Context) (int, error) {
	return s.redemption.ExpirePoints(ctx)
}

func (s *LedgerService) GetBalance(ctx context.Context, customerID int64) (*BalanceInfo, error) {
	return s.query.GetBalance(ctx, customerID)
}

func (s *LedgerService) FindAll(ctx context.Context, filter *repository.TransactionFilter) (*TransactionPage, error) {
	return s.query.FindAll(ctx, filter)
}

func (s *LedgerService) FindOne(ctx context.Context, transactionNo string) (*model.PointTransaction, error) {
	return s.query.FindOne(ctx, transactionNo)
}

func (s *LedgerService) GetExpiringPoints(ctx context.Context, customerID int64, daysAhead int) (*ExpiringPoints, error) {
	return s.query.GetExpiringPoints(ctx, customerID, daysAhead)
}
