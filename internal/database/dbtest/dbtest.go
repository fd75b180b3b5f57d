// Package dbtest 提供基于内存 SQLite 的 gorm 测试库与数据构造函数。
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dreamGarden/internal/database"
)

// New 为每个测试打开独立的内存库并完成迁移。
// 连接池限制为 1，并发测试中的事务按顺序执行：SQLite 不支持 FOR UPDATE，这里只验证串行下的结果，
// 行锁本身由 Postgres 覆盖。
func New(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        database.Now,
		TranslateError: true,
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("unwrap sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedUser 创建一个已完成资料的用户。
func SeedUser(tb testing.TB, db *gorm.DB, role database.Role) *database.User {
	tb.Helper()
	principal := uuid.NewString()
	u := &database.User{
		PrincipalID: principal,
		Email:       principal[:8] + "@example.com",
		Role:        role,
		DisplayName: "user-" + principal[:4],
	}
	if err := db.WithContext(context.Background()).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedStudent 创建学生并把给定用户设为监护人。
func SeedStudent(tb testing.TB, db *gorm.DB, name string, guardianIDs ...uint) *database.Student {
	tb.Helper()
	s := &database.Student{Name: name, Affiliation: "서울중, 3학년"}
	if err := db.Create(s).Error; err != nil {
		tb.Fatalf("seed student: %v", err)
	}
	for _, id := range guardianIDs {
		if err := db.Create(&database.StudentGuardian{StudentID: s.ID, UserID: id}).Error; err != nil {
			tb.Fatalf("seed guardian: %v", err)
		}
	}
	return s
}

// SeedCompetency 创建能力标签。
func SeedCompetency(tb testing.TB, db *gorm.DB, name string, parentID *uint, keywords []string, jobs ...string) *database.Competency {
	tb.Helper()
	c := &database.Competency{
		Name:            name,
		ParentID:        parentID,
		Keywords:        keywords,
		RecommendedJobs: jobs,
	}
	if err := db.Create(c).Error; err != nil {
		tb.Fatalf("seed competency: %v", err)
	}
	return c
}
