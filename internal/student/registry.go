// Package student 管理学生及其监护关系。
package student

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
)

// CreateInput 是新建学生的参数。
type CreateInput struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation"`
	PhotoURL    string `json:"photo_url"`
}

// Registry 负责学生与监护人的增删查。
type Registry struct {
	db          *gorm.DB
	readRetries uint64
}

// NewRegistry 构造 Registry。
func NewRegistry(db *gorm.DB, readRetries uint64) *Registry {
	return &Registry{db: db, readRetries: readRetries}
}

// CreateStudent 创建学生，调用者成为唯一监护人。
// 教师创建时同时把学生 ID 追加到其 ManagedStudentIDs。
func (r *Registry) CreateStudent(ctx context.Context, actor identity.Actor, in CreateInput) (*database.Student, error) {
	name := strings.TrimSpace(in.Name)
	affiliation := strings.TrimSpace(in.Affiliation)
	if name == "" {
		return nil, errcode.New(errcode.ValidationError, "student name is required")
	}
	if affiliation == "" {
		return nil, errcode.New(errcode.ValidationError, "student affiliation is required")
	}

	student := database.Student{
		Name:        name,
		Affiliation: affiliation,
		PhotoURL:    strings.TrimSpace(in.PhotoURL),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&student).Error; err != nil {
			return errcode.Wrap(err, "create student")
		}
		guardian := database.StudentGuardian{StudentID: student.ID, UserID: actor.UserID}
		if err := tx.Create(&guardian).Error; err != nil {
			return errcode.Wrap(err, "create guardian link")
		}
		student.Guardians = []database.StudentGuardian{guardian}

		return syncManaged(tx, actor.UserID, student.ID, true)
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// ListStudentsForGuardian 返回用户作为监护人的全部学生，按创建顺序。
func (r *Registry) ListStudentsForGuardian(ctx context.Context, guardianID uint) ([]database.Student, error) {
	var students []database.Student
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).
			Joins("JOIN student_guardians ON student_guardians.student_id = students.id AND student_guardians.user_id = ?", guardianID).
			Preload("Guardians").
			Order("students.id ASC").
			Find(&students).Error
	})
	if err != nil {
		return nil, errcode.Wrap(err, "list students for guardian %d", guardianID)
	}
	return students, nil
}

// GetStudent 返回学生详情，调用者必须是监护人。
func (r *Registry) GetStudent(ctx context.Context, actor identity.Actor, studentID uint) (*database.Student, error) {
	if _, err := r.Authorize(ctx, actor, studentID); err != nil {
		return nil, err
	}
	var student database.Student
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).Preload("Guardians").First(&student, studentID).Error
	})
	if err != nil {
		return nil, errcode.Wrap(err, "load student %d", studentID)
	}
	return &student, nil
}

// Authorize 确认学生存在且调用者是其监护人。其他模块的所有学生相关操作都经过这里。
func (r *Registry) Authorize(ctx context.Context, actor identity.Actor, studentID uint) (*database.Student, error) {
	var student database.Student
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).First(&student, studentID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.New(errcode.NotFound, "student %d not found", studentID)
	}
	if err != nil {
		return nil, errcode.Wrap(err, "load student %d", studentID)
	}

	ok, err := r.isGuardian(ctx, studentID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errcode.New(errcode.Forbidden, "user %d is not a guardian of student %d", actor.UserID, studentID)
	}
	return &student, nil
}

// AddGuardian 添加监护人；已是监护人时不做任何修改。
func (r *Registry) AddGuardian(ctx context.Context, actor identity.Actor, studentID, userID uint) (*database.Student, error) {
	if _, err := r.Authorize(ctx, actor, studentID); err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user database.User
		err := tx.Select("id").First(&user, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.New(errcode.NotFound, "user %d not found", userID)
		}
		if err != nil {
			return errcode.Wrap(err, "load user %d", userID)
		}

		link := database.StudentGuardian{StudentID: studentID, UserID: userID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return errcode.Wrap(err, "add guardian")
		}
		return syncManaged(tx, userID, studentID, true)
	})
	if err != nil {
		return nil, err
	}
	return r.GetStudent(ctx, actor, studentID)
}

// RemoveGuardian 移除监护人。在学生行锁内检查数量，保证至少保留一名监护人。
func (r *Registry) RemoveGuardian(ctx context.Context, actor identity.Actor, studentID, userID uint) (*database.Student, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var student database.Student
		err := database.ForUpdate(tx).First(&student, studentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.New(errcode.NotFound, "student %d not found", studentID)
		}
		if err != nil {
			return errcode.Wrap(err, "lock student %d", studentID)
		}

		var guardianIDs []uint
		if err := tx.Model(&database.StudentGuardian{}).
			Where("student_id = ?", studentID).
			Pluck("user_id", &guardianIDs).Error; err != nil {
			return errcode.Wrap(err, "load guardians")
		}
		if !containsID(guardianIDs, actor.UserID) {
			return errcode.New(errcode.Forbidden, "user %d is not a guardian of student %d", actor.UserID, studentID)
		}
		if !containsID(guardianIDs, userID) {
			return errcode.New(errcode.NotFound, "user %d is not a guardian of student %d", userID, studentID)
		}
		if len(guardianIDs) <= 1 {
			return errcode.New(errcode.InvariantViolation, "student %d must keep at least one guardian", studentID)
		}

		if err := tx.Where("student_id = ? AND user_id = ?", studentID, userID).
			Delete(&database.StudentGuardian{}).Error; err != nil {
			return errcode.Wrap(err, "remove guardian")
		}
		return syncManaged(tx, userID, studentID, false)
	})
	if err != nil {
		return nil, err
	}
	if actor.UserID == userID {
		var student database.Student
		if err := r.db.WithContext(ctx).Preload("Guardians").First(&student, studentID).Error; err != nil {
			return nil, errcode.Wrap(err, "reload student %d", studentID)
		}
		return &student, nil
	}
	return r.GetStudent(ctx, actor, studentID)
}

// DeleteStudent 软删除学生，记录保留。
func (r *Registry) DeleteStudent(ctx context.Context, actor identity.Actor, studentID uint) error {
	student, err := r.Authorize(ctx, actor, studentID)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Delete(student).Error; err != nil {
		return errcode.Wrap(err, "delete student %d", studentID)
	}
	return nil
}

// Guardians 返回学生的监护人 ID 列表。
func (r *Registry) Guardians(ctx context.Context, studentID uint) ([]uint, error) {
	var ids []uint
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).
			Model(&database.StudentGuardian{}).
			Where("student_id = ?", studentID).
			Order("id ASC").
			Pluck("user_id", &ids).Error
	})
	if err != nil {
		return nil, errcode.Wrap(err, "load guardians of student %d", studentID)
	}
	return ids, nil
}

func (r *Registry) isGuardian(ctx context.Context, studentID, userID uint) (bool, error) {
	var count int64
	err := database.Read(ctx, r.readRetries, func() error {
		return r.db.WithContext(ctx).
			Model(&database.StudentGuardian{}).
			Where("student_id = ? AND user_id = ?", studentID, userID).
			Count(&count).Error
	})
	if err != nil {
		return false, errcode.Wrap(err, "check guardian")
	}
	return count > 0, nil
}

// syncManaged 在教师的 ManagedStudentIDs 中加入或移除学生 ID，非教师用户不做修改。
// 必须在修改监护关系的同一事务内调用。
func syncManaged(tx *gorm.DB, userID, studentID uint, add bool) error {
	var user database.User
	if err := database.ForUpdate(tx).First(&user, userID).Error; err != nil {
		return errcode.Wrap(err, "lock user %d", userID)
	}
	if user.Role != database.RoleTeacher {
		return nil
	}

	managed := make([]uint, 0, len(user.ManagedStudentIDs)+1)
	for _, id := range user.ManagedStudentIDs {
		if id != studentID {
			managed = append(managed, id)
		}
	}
	if add {
		managed = append(managed, studentID)
	}
	if err := tx.Model(&user).Update("managed_student_ids", datatypes.JSONSlice[uint](managed)).Error; err != nil {
		return errcode.Wrap(err, "update managed students of user %d", userID)
	}
	return nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
