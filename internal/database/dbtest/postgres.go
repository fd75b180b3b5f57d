package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dreamGarden/internal/database"
)

// PostgresDSNEnv 指定行锁测试使用的 PostgreSQL。未设置时相关测试跳过。
const PostgresDSNEnv = "DREAMGARDEN_TEST_POSTGRES_DSN"

// Postgres 在独立 schema 中打开真实 PostgreSQL 并完成迁移，测试结束后删除该 schema。
// 与 New 不同，连接池不受限，SELECT ... FOR UPDATE 在并发事务之间真正生效。
func Postgres(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		tb.Skipf("%s not set", PostgresDSNEnv)
	}
	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		tb.Fatalf("open postgres: %v", err)
	}
	adminDB, err := admin.DB()
	if err != nil {
		tb.Fatalf("unwrap postgres: %v", err)
	}
	if err := admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", schema)).Error; err != nil {
		tb.Fatalf("create schema: %v", err)
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		tb.Fatalf("parse postgres dsn: %v", err)
	}
	cfg.RuntimeParams["search_path"] = schema
	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(16)

	tb.Cleanup(func() {
		_ = sqlDB.Close()
		_ = admin.WithContext(context.Background()).Exec(fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)).Error
		_ = adminDB.Close()
	})

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        database.Now,
		TranslateError: true,
	})
	if err != nil {
		tb.Fatalf("open postgres schema %s: %v", schema, err)
	}
	if err := database.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// Backends 返回并发测试要覆盖的数据库：始终包含 SQLite，设置了 PostgresDSNEnv 时加上 PostgreSQL。
func Backends() map[string]func(testing.TB) *gorm.DB {
	backends := map[string]func(testing.TB) *gorm.DB{"sqlite": New}
	if os.Getenv(PostgresDSNEnv) != "" {
		backends["postgres"] = Postgres
	}
	return backends
}
