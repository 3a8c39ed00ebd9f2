package handler

import (
	"loyaltyledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 客户接口
		loyalty := api.Group("/loyalty", AuthMiddleware(), RequireRole(RoleCustomer))
		{
			loyalty.GET("/balance", h.GetBalance)
			loyalty.GET("/transactions", h.ListOwnTransactions)
			loyalty.GET("/transactions/detail", h.GetTransaction)
			loyalty.POST("/redeem", h.Redeem)
			loyalty.GET("/expiring", h.GetExpiringPoints)
		}

		// 管理接口
		admin := api.Group("/admin/loyalty", AuthMiddleware(), RequireRole(RoleAdmin))
		{
			admin.POST("/transactions", h.CreateTransaction)
			admin.GET("/transactions", h.ListAllTransactions)
			admin.GET("/transactions/detail", h.GetTransaction)
			admin.POST("/award", h.AwardPoints)
			admin.POST("/expire", h.ExpirePoints)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
