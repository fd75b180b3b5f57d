package record

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/textcheck"
)

// LockRecord 在事务内以行锁读取记录。
func LockRecord(tx *gorm.DB, recordID uint) (*database.Record, error) {
	var rec database.Record
	err := database.ForUpdate(tx).First(&rec, recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.New(errcode.NotFound, "record %d not found", recordID)
	}
	if err != nil {
		return nil, errcode.Wrap(err, "lock record %d", recordID)
	}
	return &rec, nil
}

// ToggleChecklistItem 翻转清单项的勾选状态，读-改-写在行锁内完成。
func (s *Store) ToggleChecklistItem(ctx context.Context, actor identity.Actor, recordID uint, itemID string) (*database.Record, error) {
	if _, err := s.Get(ctx, actor, recordID); err != nil {
		return nil, err
	}

	var updated *database.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := LockRecord(tx, recordID)
		if err != nil {
			return err
		}
		items := append([]database.ChecklistItem(nil), rec.ChecklistItems...)
		found := false
		for i := range items {
			if items[i].ID == itemID {
				items[i].Checked = !items[i].Checked
				found = true
				break
			}
		}
		if !found {
			return errcode.New(errcode.NotFound, "checklist item %q not found on record %d", itemID, recordID)
		}
		if err := tx.Model(rec).Update("checklist_items", datatypes.NewJSONSlice(items)).Error; err != nil {
			return errcode.Wrap(err, "toggle checklist item")
		}
		rec.ChecklistItems = items
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.scheduleRegeneration(ctx, updated.StudentID)
	return updated, nil
}

// Link 把上学前记录与之后（在校/放学后）的记录互相关联。
// 两条记录的 LinkedRecordID 互相指向对方；重复关联同一对记录是幂等的。
func (s *Store) Link(ctx context.Context, actor identity.Actor, preID, laterID uint) (*database.Record, *database.Record, error) {
	if preID == laterID {
		return nil, nil, errcode.New(errcode.ValidationError, "a record cannot be linked to itself")
	}
	pre, err := s.load(ctx, preID)
	if err != nil {
		return nil, nil, err
	}
	later, err := s.load(ctx, laterID)
	if err != nil {
		return nil, nil, err
	}
	// 两条记录都通过鉴权后才比较所属学生。
	if _, err := s.students.Authorize(ctx, actor, pre.StudentID); err != nil {
		return nil, nil, err
	}
	if later.StudentID != pre.StudentID {
		if _, err := s.students.Authorize(ctx, actor, later.StudentID); err != nil {
			return nil, nil, err
		}
		return nil, nil, errcode.New(errcode.ValidationError, "linked records must describe the same student")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 固定按 ID 顺序加锁，避免两个相反方向的关联请求互相等待。
		first, second := preID, laterID
		if first > second {
			first, second = second, first
		}
		locked := make(map[uint]*database.Record, 2)
		for _, id := range []uint{first, second} {
			rec, err := LockRecord(tx, id)
			if err != nil {
				return err
			}
			locked[id] = rec
		}
		pre, later = locked[preID], locked[laterID]

		if pre.SchoolContext != database.ContextPre {
			return errcode.New(errcode.ValidationError, "record %d is not a Pre-context record", preID)
		}
		if later.SchoolContext == database.ContextPre {
			return errcode.New(errcode.ValidationError, "record %d must be a During or Post record", laterID)
		}
		if linkedElsewhere(pre, laterID) || linkedElsewhere(later, preID) {
			return errcode.New(errcode.InvariantViolation, "record is already linked to another record")
		}
		if pre.LinkedRecordID != nil && later.LinkedRecordID != nil {
			return nil
		}

		if err := tx.Model(pre).Update("linked_record_id", laterID).Error; err != nil {
			return errcode.Wrap(err, "link record %d", preID)
		}
		if err := tx.Model(later).Update("linked_record_id", preID).Error; err != nil {
			return errcode.Wrap(err, "link record %d", laterID)
		}
		pre.LinkedRecordID = &laterID
		later.LinkedRecordID = &preID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("records linked",
		slog.Uint64("pre_record_id", uint64(preID)),
		slog.Uint64("later_record_id", uint64(laterID)),
	)
	return pre, later, nil
}

func linkedElsewhere(rec *database.Record, partnerID uint) bool {
	return rec.LinkedRecordID != nil && *rec.LinkedRecordID != partnerID
}

// Neutralize 改写共享文本并标记 AINeutralized；原文不变。
// sharedText 为 nil 时使用语气分析给出的建议。已关联的记录不可再改写。
func (s *Store) Neutralize(ctx context.Context, actor identity.Actor, recordID uint, sharedText *string) (*database.Record, error) {
	if _, err := s.Get(ctx, actor, recordID); err != nil {
		return nil, err
	}

	var updated *database.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := LockRecord(tx, recordID)
		if err != nil {
			return err
		}
		if rec.LinkedRecordID != nil {
			return errcode.New(errcode.InvariantViolation, "record %d is linked and can no longer be rewritten", recordID)
		}
		var referencing int64
		if err := tx.Model(&database.Record{}).Where("linked_record_id = ?", recordID).Count(&referencing).Error; err != nil {
			return errcode.Wrap(err, "check record references")
		}
		if referencing > 0 {
			return errcode.New(errcode.InvariantViolation, "record %d is linked and can no longer be rewritten", recordID)
		}

		text := textcheck.Analyze(rec.NarrativeTextRaw).Suggestion
		if sharedText != nil {
			text = strings.TrimSpace(*sharedText)
		}
		if text == "" {
			return errcode.New(errcode.ValidationError, "shared text must not be blank")
		}

		if err := tx.Model(rec).Updates(map[string]any{
			"narrative_text_shared": text,
			"ai_neutralized":        true,
		}).Error; err != nil {
			return errcode.Wrap(err, "neutralize record %d", recordID)
		}
		rec.NarrativeTextShared = text
		rec.AINeutralized = true
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
