package handler

import (
	"errors"
	"strconv"
	"time"

	"loyaltyledger/internal/config"
	"loyaltyledger/internal/repository"
	"loyaltyledger/internal/service"
	"loyaltyledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，只依赖积分账本门面
type Handler struct {
	ledger *service.LedgerService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		ledger: service.NewLedgerService(db, rdb, cfg),
	}
}

// respondError 把服务层错误映射为统一响应码
// 积分不足是预期内的业务结果，不在这里记错误日志
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrZeroAmount),
		errors.Is(err, service.ErrMissingDescription),
		errors.Is(err, service.ErrExpiryNotAllowed),
		errors.Is(err, service.ErrInvalidDaysAhead):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrInvalidType):
		response.BusinessError(c, response.CodeInvalidType, err.Error())
	case errors.Is(err, repository.ErrCustomerNotFound):
		response.BusinessError(c, response.CodeCustomerNotFound, err.Error())
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, repository.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock):
		response.BusinessError(c, response.CodeWriteConflict, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// parseExpiresAt 解析可选的过期时间（RFC3339）
func parseExpiresAt(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ============================================================
// 客户接口
// ============================================================

// GetBalance 查询当前客户积分余额
// GET /api/v1/loyalty/balance
func (h *Handler) GetBalance(c *gin.Context) {
	info, err := h.ledger.GetBalance(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"balance": info.Balance,
		"tier":    info.Tier,
	})
}

// ListOwnTransactions 查询当前客户的积分流水
// GET /api/v1/loyalty/transactions?type=EARNED&is_expired=false&page=1&page_size=10&sort_by=created_at&sort_order=desc
func (h *Handler) ListOwnTransactions(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	// 强制只能看自己的
	filter.CustomerID = CurrentUserID(c)

	page, err := h.ledger.FindAll(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, page)
}

// GetTransaction 按流水号查询单笔流水
// GET /api/v1/loyalty/transactions/detail?transaction_no=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionNo := c.Query("transaction_no")
	if transactionNo == "" {
		response.ParamError(c, "transaction_no 参数不能为空")
		return
	}

	trans, err := h.ledger.FindOne(c.Request.Context(), transactionNo)
	if err != nil {
		respondError(c, err)
		return
	}

	// 客户只能看自己的流水，管理员不受限
	if c.GetString(ContextKeyRole) != RoleAdmin && trans.CustomerID != CurrentUserID(c) {
		response.Forbidden(c, "没有访问权限")
		return
	}

	response.Success(c, trans)
}

// RedeemRequest 兑换请求
type RedeemRequest struct {
	Points      int64  `json:"points" binding:"required,gt=0"`
	Description string `json:"description" binding:"required"`
}

// Redeem 客户兑换积分
// POST /api/v1/loyalty/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.ledger.RedeemPoints(c.Request.Context(), &service.RedeemRequest{
		CustomerID:  CurrentUserID(c),
		Points:      req.Points,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, trans)
}

// GetExpiringPoints 查询即将过期的积分
// GET /api/v1/loyalty/expiring?days=30
func (h *Handler) GetExpiringPoints(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 0 {
		response.ParamError(c, "days 参数必须为非负整数")
		return
	}

	result, err := h.ledger.GetExpiringPoints(c.Request.Context(), CurrentUserID(c), days)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 管理接口
// ============================================================

// CreateTransactionRequest 管理员直接记账请求
type CreateTransactionRequest struct {
	CustomerID  int64  `json:"customer_id" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
	OrderNo     string `json:"order_no"`
	ExpiresAt   string `json:"expires_at"` // RFC3339，可选
}

// CreateTransaction 管理员记账（类型和符号由请求指定）
// POST /api/v1/admin/loyalty/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	expiresAt, err := parseExpiresAt(req.ExpiresAt)
	if err != nil {
		response.ParamError(c, "expires_at 格式错误，需要 RFC3339")
		return
	}

	trans, err := h.ledger.Create(c.Request.Context(), &service.RecordRequest{
		CustomerID:  req.CustomerID,
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		OrderNo:     req.OrderNo,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, trans)
}

// AwardPointsRequest 发放积分请求
type AwardPointsRequest struct {
	CustomerID  int64  `json:"customer_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description" binding:"required"`
	OrderNo     string `json:"order_no"`
	ExpiresAt   string `json:"expires_at"` // RFC3339，可选
}

// AwardPoints 管理员发放积分（强制 EARNED）
// POST /api/v1/admin/loyalty/award
func (h *Handler) AwardPoints(c *gin.Context) {
	var req AwardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	expiresAt, err := parseExpiresAt(req.ExpiresAt)
	if err != nil {
		response.ParamError(c, "expires_at 格式错误，需要 RFC3339")
		return
	}

	trans, err := h.ledger.AwardPoints(c.Request.Context(),
		req.CustomerID, req.Amount, req.Description, req.OrderNo, expiresAt)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, trans)
}

// ListAllTransactions 管理员查询全量流水（支持完整过滤条件）
// GET /api/v1/admin/loyalty/transactions?customer_id=&type=&order_no=&is_expired=&keyword=&page=&page_size=&sort_by=&sort_order=
func (h *Handler) ListAllTransactions(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if customerIDStr := c.Query("customer_id"); customerIDStr != "" {
		customerID, err := strconv.ParseInt(customerIDStr, 10, 64)
		if err != nil {
			response.ParamError(c, "customer_id 参数错误")
			return
		}
		filter.CustomerID = customerID
	}
	filter.OrderNo = c.Query("order_no")
	filter.Description = c.Query("keyword")

	page, err := h.ledger.FindAll(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, page)
}

// ExpirePoints 手动触发一次过期清扫
// POST /api/v1/admin/loyalty/expire
func (h *Handler) ExpirePoints(c *gin.Context) {
	count, err := h.ledger.ExpirePoints(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"expired_count": count,
	})
}

// parseListFilter 解析流水列表的公共查询参数
func parseListFilter(c *gin.Context) (*repository.TransactionFilter, error) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return nil, errors.New("page 必须为正整数")
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err != nil || pageSize < 1 {
		return nil, errors.New("page_size 必须为正整数")
	}

	filter := &repository.TransactionFilter{
		Type:     c.Query("type"),
		SortBy:   c.Query("sort_by"),
		SortDesc: c.DefaultQuery("sort_order", "desc") == "desc",
		Page:     page,
		PageSize: pageSize,
	}

	if isExpiredStr := c.Query("is_expired"); isExpiredStr != "" {
		isExpired, err := strconv.ParseBool(isExpiredStr)
		if err != nil {
			return nil, errors.New("is_expired 必须为 true 或 false")
		}
		filter.IsExpired = &isExpired
	}

	return filter, nil
}
