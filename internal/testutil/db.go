package testutil

import (
	"fmt"
	"testing"

	"loyaltyledger/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB 创建内存 SQLite 测试库，自动迁移账本表结构，测试结束自动关闭
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	if err := db.AutoMigrate(
		&model.Customer{},
		&model.PointTransaction{},
		&model.OutboxMessage{},
	); err != nil {
		t.Fatalf("迁移测试库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 内存库必须单连接，否则不同连接看到不同的数据库
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
