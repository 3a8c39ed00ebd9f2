package model

import (
	"time"
)

// ============================================================================
// 积分流水类型常量
// ============================================================================

const (
	TransactionTypeEarned          = "EARNED"           // 获得积分（订单奖励、活动发放）
	TransactionTypeSpent           = "SPENT"            // 消费积分（兑换抵扣）
	TransactionTypeExpired         = "EXPIRED"          // 积分过期（系统冲销）
	TransactionTypeRefunded        = "REFUNDED"         // 退单返还
	TransactionTypeAdminAdjustment = "ADMIN_ADJUSTMENT" // 管理员手工调整
)

// IsValidTransactionType 校验流水类型是否合法
func IsValidTransactionType(t string) bool {
	switch t {
	case TransactionTypeEarned, TransactionTypeSpent, TransactionTypeExpired,
		TransactionTypeRefunded, TransactionTypeAdminAdjustment:
		return true
	}
	return false
}

// ============================================================================
// 积分流水实体
// ============================================================================

// PointTransaction 积分流水表
// 记录客户积分的每一笔变动，是对账的核心依据
//
// 【重要】流水表设计原则：
//  1. 只追加，不修改，不删除 —— 保证审计可追溯
//     唯一的例外是 is_expired，由过期清扫任务置位一次，false→true 不可逆
//  2. 记录交易前后余额 —— 便于校验余额一致性（balance_after = balance_before + amount）
//  3. 金额带符号 —— 正数入账（EARNED/REFUNDED/正向调整），负数出账（SPENT/EXPIRED/负向调整）
type PointTransaction struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一，对外标识）
	CustomerID    int64      `gorm:"index;not null" json:"customer_id"`                           // 客户ID
	Type          string     `gorm:"type:varchar(20);index;not null" json:"type"`                 // 流水类型
	Amount        int64      `gorm:"not null" json:"amount"`                                      // 积分变动（带符号）
	OrderNo       string     `gorm:"type:varchar(64);index" json:"order_no,omitempty"`            // 关联订单号（可选）
	Description   string     `gorm:"type:varchar(256);not null" json:"description"`               // 变动原因
	BalanceBefore int64      `gorm:"not null" json:"balance_before"`                              // 变动前余额
	BalanceAfter  int64      `gorm:"not null" json:"balance_after"`                               // 变动后余额
	ExpiresAt     *time.Time `gorm:"index" json:"expires_at,omitempty"`                           // 过期时间，仅 EARNED 可带
	IsExpired     bool       `gorm:"not null;default:false;index" json:"is_expired"`              // 是否已被过期冲销
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PointTransaction) TableName() string {
	return "point_transaction"
}
