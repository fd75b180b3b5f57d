package identity

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
)

// ProfileInput 是首次登录后的资料初始化请求。
// 角色相关字段：Parent 需要 Hoching，Teacher 需要机构，Individual 需要 Affiliation。
type ProfileInput struct {
	Role         database.Role `json:"role"`
	DisplayName  string        `json:"display_name"`
	PhotoURL     string        `json:"photo_url"`
	Hoching      string        `json:"hoching"`
	FacilityID   *uint         `json:"facility_id"`
	FacilityName string        `json:"facility_name"`
	Affiliation  string        `json:"affiliation"`
}

// SettingsInput 只允许修改显示名与头像。
type SettingsInput struct {
	DisplayName *string `json:"display_name"`
	PhotoURL    *string `json:"photo_url"`
}

func (in ProfileInput) validate() error {
	if !in.Role.Valid() {
		return errcode.New(errcode.ValidationError, "unknown role %q", in.Role)
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return errcode.New(errcode.ValidationError, "display name is required")
	}
	switch in.Role {
	case database.RoleParent:
		if strings.TrimSpace(in.Hoching) == "" {
			return errcode.New(errcode.ValidationError, "hoching is required for parents")
		}
	case database.RoleTeacher:
		if in.FacilityID == nil && strings.TrimSpace(in.FacilityName) == "" {
			return errcode.New(errcode.ValidationError, "facility is required for teachers")
		}
	case database.RoleIndividual:
		if strings.TrimSpace(in.Affiliation) == "" {
			return errcode.New(errcode.ValidationError, "affiliation is required for individuals")
		}
	}
	return nil
}

// CompleteProfile 为主体创建用户资料。
// 已有资料时：角色相同则原样返回，角色不同返回 InvariantViolation（角色不可变）。
func (r *Resolver) CompleteProfile(ctx context.Context, p Principal, in ProfileInput) (*database.User, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return nil, errcode.New(errcode.Unauthenticated, "no authenticated principal")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var user database.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("principal_id = ?", p.Subject).First(&user).Error
		if err == nil {
			return sameRole(&user, in.Role)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.Wrap(err, "load profile")
		}

		user = database.User{
			PrincipalID: p.Subject,
			Email:       p.Email,
			Role:        in.Role,
			DisplayName: strings.TrimSpace(in.DisplayName),
			PhotoURL:    in.PhotoURL,
		}
		switch in.Role {
		case database.RoleParent:
			user.Hoching = strings.TrimSpace(in.Hoching)
		case database.RoleTeacher:
			user.ManagedStudentIDs = []uint{}
		case database.RoleIndividual:
			user.Affiliation = strings.TrimSpace(in.Affiliation)
		}

		// 同一主体的并发首次提交只有一个能插入，另一个按已提交的资料判定角色。
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "principal_id"}},
			DoNothing: true,
		}).Create(&user)
		if res.Error != nil {
			return errcode.Wrap(res.Error, "create profile")
		}
		if res.RowsAffected == 0 {
			user = database.User{}
			if err := tx.Where("principal_id = ?", p.Subject).First(&user).Error; err != nil {
				return errcode.Wrap(err, "reload profile")
			}
			return sameRole(&user, in.Role)
		}

		if in.Role == database.RoleTeacher {
			facility, err := resolveFacility(tx, in.FacilityID, in.FacilityName)
			if err != nil {
				return err
			}
			user.FacilityID = &facility.ID
			if err := tx.Model(&user).Update("facility_id", facility.ID).Error; err != nil {
				return errcode.Wrap(err, "set facility")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func sameRole(user *database.User, role database.Role) error {
	if user.Role != role {
		return errcode.New(errcode.InvariantViolation, "role is already %s", user.Role)
	}
	return nil
}

// UpdateSettings 更新调用者的显示名/头像，其余字段不可通过设置修改。
func (r *Resolver) UpdateSettings(ctx context.Context, actor Actor, in SettingsInput) (*database.User, error) {
	updates := map[string]any{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, errcode.New(errcode.ValidationError, "display name must not be blank")
		}
		updates["display_name"] = name
	}
	if in.PhotoURL != nil {
		updates["photo_url"] = strings.TrimSpace(*in.PhotoURL)
	}

	user, err := r.User(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := r.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, errcode.Wrap(err, "update settings")
	}
	return r.User(ctx, actor.UserID)
}

// resolveFacility 优先按 ID 查找；只给名称时按名称查找，不存在则创建。
func resolveFacility(tx *gorm.DB, id *uint, name string) (*database.Facility, error) {
	var facility database.Facility
	if id != nil {
		err := tx.First(&facility, *id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "facility %d not found", *id)
		}
		if err != nil {
			return nil, errcode.Wrap(err, "load facility")
		}
		return &facility, nil
	}

	name = strings.TrimSpace(name)
	if err := tx.Where(database.Facility{Name: name}).FirstOrCreate(&facility).Error; err != nil {
		return nil, errcode.Wrap(err, "resolve facility %q", name)
	}
	return &facility, nil
}

// ListFacilities 返回全部机构，按名称排序。
func (r *Resolver) ListFacilities(ctx context.Context) ([]database.Facility, error) {
	var facilities []database.Facility
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).Order("name ASC").Find(&facilities).Error
	})
	if err != nil {
		return nil, errcode.Wrap(err, "list facilities")
	}
	return facilities, nil
}

// CreateFacility 登记机构；同名机构已存在时返回已有记录。
func (r *Resolver) CreateFacility(ctx context.Context, name, kind, address string) (*database.Facility, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errcode.New(errcode.ValidationError, "facility name is required")
	}
	var facility database.Facility
	err := r.db.WithContext(ctx).
		Where(database.Facility{Name: name}).
		Attrs(database.Facility{Type: strings.TrimSpace(kind), Address: strings.TrimSpace(address)}).
		FirstOrCreate(&facility).Error
	if err != nil {
		return nil, errcode.Wrap(err, "create facility")
	}
	return &facility, nil
}
