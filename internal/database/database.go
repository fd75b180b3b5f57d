package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"dreamGarden/internal/config"
)

// InitDatabase 使用配置初始化 PostgreSQL 连接，并返回 GORM 数据库实例。
func InitDatabase(cfg config.DatabaseConfig, logSQL bool) (*gorm.DB, error) {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		NowFunc:        Now,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap db: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Migrate 创建/更新全部表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// AllModels 返回需要迁移的模型列表，api/worker/admin 与测试共用。
func AllModels() []any {
	return []any{
		&Facility{},
		&User{},
		&Student{},
		&StudentGuardian{},
		&Competency{},
		&Record{},
		&RecordCompetency{},
		&Comment{},
		&Portfolio{},
	}
}

// Now 返回 UTC 且截断到微秒的时间，与 PostgreSQL timestamptz 精度一致，
// 保证分页游标中的 created_at 与库中值可以精确比较。
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ForUpdate 给查询加上行锁（SELECT ... FOR UPDATE），只能在事务内使用。
// SQLite 驱动会忽略该子句，测试中依靠单连接串行化。
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
