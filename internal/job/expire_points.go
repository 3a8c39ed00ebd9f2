package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/infrastructure/lock"
	"loyaltyledger/internal/service"
	"loyaltyledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ExpirePointsJob 积分过期清扫任务
// 按固定周期扫描到期的 EARNED 流水并逐笔冲销，
// 多实例部署时通过全局 Redis 锁保证同一时刻只有一个实例在清扫
// （清扫本身是幂等的，锁只是避免无谓的重复扫描）
type ExpirePointsJob struct {
	db          *gorm.DB
	redisClient *redis.Client
	redemption  *service.RedemptionService
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
}

func NewExpirePointsJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ExpirePointsJob {
	earning := service.NewEarningService(db, cfg)

	interval := time.Duration(cfg.Business.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return &ExpirePointsJob{
		db:          db,
		redisClient: redisClient,
		redemption:  service.NewRedemptionService(db, redisClient, cfg, earning),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    interval,
	}
}

func (j *ExpirePointsJob) Start(ctx context.Context) {
	log.Println("[ExpirePointsJob] 积分过期清扫任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirePointsJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpirePointsJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ExpirePointsJob) Stop() {
	close(j.stopCh)
}

func (j *ExpirePointsJob) sweep(ctx context.Context) {
	if j.redisClient != nil {
		sweepLock := lock.NewSweepLock(j.redisClient, fmt.Sprintf("sweep-%s", idgen.GenerateTransactionNo()))
		ok, err := sweepLock.TryLock(ctx)
		if err != nil {
			log.Printf("[ExpirePointsJob] 获取清扫锁失败: %v", err)
			return
		}
		if !ok {
			// 其他实例正在清扫
			return
		}
		defer sweepLock.Unlock(ctx)
	}

	count, err := j.redemption.ExpirePoints(ctx)
	if err != nil {
		log.Printf("[ExpirePointsJob] 清扫失败: %v", err)
		return
	}

	if count > 0 {
		log.Printf("[ExpirePointsJob] 本次冲销 %d 笔到期积分", count)
	}
}
