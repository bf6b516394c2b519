package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InMemoryDSN 进程内临时库，测试与单机调试使用
const InMemoryDSN = ":memory:"

var (
	gormConfig = &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	schemaModels = []any{
		&PaymentRecord{},
		&MintCacheEntry{},
	}
)

// OpenDB 打开 sqlite（文件或内存）并迁移表结构
func OpenDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = InMemoryDSN
	}
	if dsn != InMemoryDSN {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create db dir %s: %w", dir, err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// 单连接：内存库每个连接是独立的库，文件库在 WAL 下单写者即可
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(schemaModels...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
