// Package identity 把外部认证主体解析为系统内的用户与角色。
//
// 认证本身（邮件链接、第三方登录）由外部服务完成；这里只接收已经验证过的
// Principal，查出对应的 User，并为后续调用构造显式的 Actor。
package identity

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
)

// Principal 是认证服务给出的主体。
type Principal struct {
	Subject string
	Email   string
}

// Actor 是一次调用的发起者，随每个服务调用显式传递。
type Actor struct {
	UserID uint
	Role   database.Role
}

// State 表示主体在系统中的资料状态。
type State string

const (
	StateReady             State = "Ready"
	StateProfileIncomplete State = "ProfileIncomplete"
)

// Identity 是 Resolve 的结果。ProfileIncomplete 时 User 为 nil。
type Identity struct {
	State     State
	Principal Principal
	User      *database.User
}

// Actor 返回可用于授权的调用者；资料未完成时返回 Forbidden。
func (i Identity) Actor() (Actor, error) {
	if i.State != StateReady || i.User == nil {
		return Actor{}, errcode.New(errcode.Forbidden, "profile is incomplete")
	}
	return Actor{UserID: i.User.ID, Role: i.User.Role}, nil
}

// Resolver 负责主体解析、资料初始化与个人设置。
type Resolver struct {
	db          *gorm.DB
	readRetries uint64
}

// NewResolver 构造 Resolver。
func NewResolver(db *gorm.DB, readRetries uint64) *Resolver {
	return &Resolver{db: db, readRetries: readRetries}
}

// Resolve 把主体映射为 Identity，只读。
func (r *Resolver) Resolve(ctx context.Context, p Principal) (Identity, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return Identity{}, errcode.New(errcode.Unauthenticated, "no authenticated principal")
	}

	var user database.User
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).Where("principal_id = ?", p.Subject).First(&user).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Identity{State: StateProfileIncomplete, Principal: p}, nil
	case err != nil:
		return Identity{}, errcode.Wrap(err, "resolve principal")
	}

	return Identity{State: StateReady, Principal: p, User: &user}, nil
}

// User 按 ID 读取用户。
func (r *Resolver) User(ctx context.Context, id uint) (*database.User, error) {
	var user database.User
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).First(&user, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.New(errcode.NotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, errcode.Wrap(err, "load user %d", id)
	}
	return &user, nil
}
