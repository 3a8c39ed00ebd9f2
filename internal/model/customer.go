package model

import (
	"time"
)

// Customer 客户积分账户表
// 镜像客户档案系统中的积分余额，是本子系统唯一可变的共享状态
//
// 【重要】loyalty_points 只能通过积分流水的写入路径（EarningService）修改，
// 任何其他协作方不得直接改写，否则余额与流水之和的一致性无法保证
type Customer struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID    int64     `gorm:"uniqueIndex;not null" json:"customer_id"`     // 客户ID，档案系统传入
	LoyaltyPoints int64     `gorm:"not null;default:0" json:"loyalty_points"`    // 当前可用积分
	Tier          string    `gorm:"type:varchar(32);default:BRONZE" json:"tier"` // 会员等级，本子系统只读
	Version       int       `gorm:"not null;default:0" json:"version"`           // 乐观锁版本号
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customer"
}
