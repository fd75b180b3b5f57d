// Package media 管理记录上的媒体/文件引用，以及上传（扫描 → 存储）流程。
// 记录里只保存对象键或外部 URL，字节内容从不进入数据库。
package media

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/record"
	"dreamGarden/internal/storage"
)

// Refs 是要追加到记录上的引用。
type Refs struct {
	Media []string `json:"media_urls"`
	Files []string `json:"file_urls"`
}

// RecordReader 读取记录并完成授权。
type RecordReader interface {
	Get(ctx context.Context, actor identity.Actor, recordID uint) (*database.Record, error)
}

// Tracker 负责向记录追加引用，并在提交时守住数量上限。
type Tracker struct {
	db        *gorm.DB
	records   RecordReader
	scheduler record.RegenerationScheduler
	logger    *slog.Logger
}

// NewTracker 构造 Tracker。
func NewTracker(db *gorm.DB, records RecordReader, scheduler record.RegenerationScheduler, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{db: db, records: records, scheduler: scheduler, logger: logger}
}

// Attach 把引用追加到记录上。读取、校验、写回都在持有行锁的事务内完成，
// 超过上限时返回 LimitExceeded，记录保持不变。
func (t *Tracker) Attach(ctx context.Context, actor identity.Actor, recordID uint, refs Refs) (*database.Record, error) {
	if len(refs.Media) == 0 && len(refs.Files) == 0 {
		return nil, errcode.New(errcode.ValidationError, "no references to attach")
	}
	current, err := t.records.Get(ctx, actor, recordID)
	if err != nil {
		return nil, err
	}
	for _, ref := range append(append([]string{}, refs.Media...), refs.Files...) {
		if !storage.IsValidRecordReference(current.StudentID, ref) {
			return nil, errcode.New(errcode.ValidationError, "invalid reference %q", ref)
		}
	}

	var updated *database.Record
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := record.LockRecord(tx, recordID)
		if err != nil {
			return err
		}
		mediaRefs := append(append([]string{}, rec.MediaURLs...), refs.Media...)
		fileRefs := append(append([]string{}, rec.FileURLs...), refs.Files...)
		if err := record.CheckCeilings(len(mediaRefs), len(fileRefs)); err != nil {
			return err
		}

		if err := tx.Model(rec).Updates(map[string]any{
			"media_urls": database.StringList(mediaRefs),
			"file_urls":  database.StringList(fileRefs),
		}).Error; err != nil {
			return errcode.Wrap(err, "attach media to record %d", recordID)
		}
		rec.MediaURLs = mediaRefs
		rec.FileURLs = fileRefs
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("media attached",
		slog.Uint64("record_id", uint64(recordID)),
		slog.Int("media_count", len(updated.MediaURLs)),
		slog.Int("file_count", len(updated.FileURLs)),
	)
	if t.scheduler != nil {
		if err := t.scheduler.ScheduleRegeneration(ctx, updated.StudentID); err != nil {
			t.logger.Warn("schedule portfolio regeneration failed", slog.Any("error", err))
		}
	}
	return updated, nil
}
