// Package record 实现观察记录的写入、分页查询与受限修改。
//
// 记录原文（NarrativeTextRaw）写入后不再改变；共享文本只能经中性化改写。
// 所有对单条记录的读-改-写都在事务内持有行锁完成，媒体/文件数量上限在提交时校验。
package record

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dreamGarden/internal/catalog"
	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/metrics"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/textcheck"
)

const (
	MaxMediaURLs = 20
	MaxFileURLs  = 5
)

// Authorizer 确认调用者可以访问某个学生。
type Authorizer interface {
	Authorize(ctx context.Context, actor identity.Actor, studentID uint) (*database.Student, error)
}

// RegenerationScheduler 接收记录变更后的作品集再生成请求。
type RegenerationScheduler interface {
	ScheduleRegeneration(ctx context.Context, studentID uint) error
}

// CreateInput 是新建记录的参数。CompetencyIDs 为 nil 时按关键词自动抽取。
type CreateInput struct {
	StudentID      uint                     `json:"student_id"`
	SchoolContext  database.SchoolContext   `json:"school_context"`
	NarrativeText  string                   `json:"narrative_text"`
	EmotionCardID  int                      `json:"emotion_card_id"`
	CompetencyIDs  []uint                   `json:"competency_ids"`
	MediaURLs      []string                 `json:"media_urls"`
	FileURLs       []string                 `json:"file_urls"`
	ChecklistItems []database.ChecklistItem `json:"checklist_items"`
	IdempotencyKey string                   `json:"-"`
}

// Store 是记录的读写入口。
type Store struct {
	db          *gorm.DB
	students    Authorizer
	scheduler   RegenerationScheduler
	logger      *slog.Logger
	readRetries uint64
}

// NewStore 构造 Store。scheduler 可以为 nil（例如运维工具中）。
func NewStore(db *gorm.DB, students Authorizer, scheduler RegenerationScheduler, logger *slog.Logger, readRetries uint64) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:          db,
		students:    students,
		scheduler:   scheduler,
		logger:      logger,
		readRetries: readRetries,
	}
}

func (in *CreateInput) normalize() error {
	if in.StudentID == 0 {
		return errcode.New(errcode.ValidationError, "student id is required")
	}
	if !in.SchoolContext.Valid() {
		return errcode.New(errcode.ValidationError, "unknown school context %q", in.SchoolContext)
	}
	in.NarrativeText = strings.TrimSpace(in.NarrativeText)
	if in.NarrativeText == "" {
		return errcode.New(errcode.ValidationError, "narrative text is required")
	}
	if !catalog.ValidEmotion(in.EmotionCardID) {
		return errcode.New(errcode.ValidationError, "unknown emotion card %d", in.EmotionCardID)
	}
	if err := CheckCeilings(len(in.MediaURLs), len(in.FileURLs)); err != nil {
		return err
	}
	for _, ref := range append(append([]string{}, in.MediaURLs...), in.FileURLs...) {
		if !storage.IsValidRecordReference(in.StudentID, ref) {
			return errcode.New(errcode.ValidationError, "invalid media reference %q", ref)
		}
	}

	seen := make(map[string]struct{}, len(in.ChecklistItems))
	for i := range in.ChecklistItems {
		item := &in.ChecklistItems[i]
		item.Label = strings.TrimSpace(item.Label)
		if item.Label == "" {
			return errcode.New(errcode.ValidationError, "checklist item %d has no label", i)
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, dup := seen[item.ID]; dup {
			return errcode.New(errcode.ValidationError, "duplicate checklist item id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	return nil
}

// CheckCeilings 校验一条记录上的媒体/文件数量上限，创建与追加共用。
func CheckCeilings(media, files int) error {
	if media > MaxMediaURLs {
		metrics.LimitRejections.WithLabelValues("media").Inc()
		return errcode.New(errcode.LimitExceeded, "a record holds at most %d media references, got %d", MaxMediaURLs, media)
	}
	if files > MaxFileURLs {
		metrics.LimitRejections.WithLabelValues("files").Inc()
		return errcode.New(errcode.LimitExceeded, "a record holds at most %d file references, got %d", MaxFileURLs, files)
	}
	return nil
}

// Create 写入一条记录及其能力引用；整个写入在一个事务内完成。
// 带幂等键的重试返回第一次创建的记录。
func (s *Store) Create(ctx context.Context, actor identity.Actor, in CreateInput) (*database.Record, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if _, err := s.students.Authorize(ctx, actor, in.StudentID); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, actor.UserID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(existing, in)
		}
	}

	competencyIDs, err := s.resolveCompetencies(ctx, in.CompetencyIDs, in.NarrativeText)
	if err != nil {
		return nil, err
	}

	flag := textcheck.Analyze(in.NarrativeText).Flag
	rec := database.Record{
		StudentID:              in.StudentID,
		AuthorID:               actor.UserID,
		AuthorRole:             actor.Role,
		SchoolContext:          in.SchoolContext,
		NarrativeTextRaw:       in.NarrativeText,
		NarrativeTextShared:    in.NarrativeText,
		AIFlag:                 &flag,
		EmotionCardID:          in.EmotionCardID,
		ExtractedCompetencyIDs: competencyIDs,
		MediaURLs:              nonNil(in.MediaURLs),
		FileURLs:               nonNil(in.FileURLs),
		ChecklistItems:         in.ChecklistItems,
	}
	if rec.ChecklistItems == nil {
		rec.ChecklistItems = []database.ChecklistItem{}
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		rec.IdempotencyKey = &key
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if len(competencyIDs) == 0 {
			return nil
		}
		links := make([]database.RecordCompetency, 0, len(competencyIDs))
		for _, id := range competencyIDs {
			links = append(links, database.RecordCompetency{RecordID: rec.ID, CompetencyID: id, StudentID: rec.StudentID})
		}
		return tx.Create(&links).Error
	})
	if err != nil {
		if in.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.findByIdempotencyKey(ctx, actor.UserID, in.IdempotencyKey)
			if findErr == nil && existing != nil {
				return s.replay(existing, in)
			}
		}
		return nil, errcode.Wrap(err, "create record")
	}

	metrics.RecordsCreated.WithLabelValues(string(rec.SchoolContext)).Inc()
	s.logger.Info("record created",
		slog.Uint64("record_id", uint64(rec.ID)),
		slog.Uint64("student_id", uint64(rec.StudentID)),
		slog.String("school_context", string(rec.SchoolContext)),
	)
	s.scheduleRegeneration(ctx, rec.StudentID)
	return &rec, nil
}

// replay 处理幂等重试：同一作者的同一幂等键只能用于同一个学生。
func (s *Store) replay(existing *database.Record, in CreateInput) (*database.Record, error) {
	if existing.StudentID != in.StudentID {
		return nil, errcode.New(errcode.InvariantViolation, "idempotency key already used for another student")
	}
	s.logger.Info("record create replayed", slog.Uint64("record_id", uint64(existing.ID)))
	return existing, nil
}

func (s *Store) findByIdempotencyKey(ctx context.Context, authorID uint, key string) (*database.Record, error) {
	var rec database.Record
	err := database.Read(ctx, s.readRetries, func() error {
		return s.db.WithContext(ctx).
			Where("author_id = ? AND idempotency_key = ?", authorID, key).
			First(&rec).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errcode.Wrap(err, "look up idempotency key")
	}
	return &rec, nil
}

// Get 读取一条记录，调用者必须是该学生的监护人。
func (s *Store) Get(ctx context.Context, actor identity.Actor, recordID uint) (*database.Record, error) {
	rec, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.Authorize(ctx, actor, rec.StudentID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) load(ctx context.Context, recordID uint) (*database.Record, error) {
	var rec database.Record
	err := database.Read(ctx, s.readRetries, func() error {
		return s.db.WithContext(ctx).First(&rec, recordID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.New(errcode.NotFound, "record %d not found", recordID)
	}
	if err != nil {
		return nil, errcode.Wrap(err, "load record %d", recordID)
	}
	return &rec, nil
}

// resolveCompetencies 校验显式给出的能力 ID；未给出时按关键词从叙述中抽取。
func (s *Store) resolveCompetencies(ctx context.Context, requested []uint, narrative string) ([]uint, error) {
	var all []database.Competency
	err := database.Read(ctx, s.readRetries, func() error {
		return s.db.WithContext(ctx).Find(&all).Error
	})
	if err != nil {
		return nil, errcode.Wrap(err, "load competencies")
	}

	if requested != nil {
		known := make(map[uint]struct{}, len(all))
		for _, c := range all {
			known[c.ID] = struct{}{}
		}
		for _, id := range requested {
			if _, ok := known[id]; !ok {
				return nil, errcode.New(errcode.NotFound, "competency %d not found", id)
			}
		}
		return dedupeSorted(requested), nil
	}
	return ExtractCompetencies(narrative, all), nil
}

// ExtractCompetencies 返回叙述中命中关键词的能力 ID（升序、去重）。
func ExtractCompetencies(narrative string, competencies []database.Competency) []uint {
	ids := []uint{}
	for _, c := range competencies {
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(narrative, kw) {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	return dedupeSorted(ids)
}

func dedupeSorted(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// scheduleRegeneration 请求异步再生成作品集；失败只记录日志，作品集允许短暂滞后。
func (s *Store) scheduleRegeneration(ctx context.Context, studentID uint) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleRegeneration(ctx, studentID); err != nil {
		s.logger.Warn("schedule portfolio regeneration failed",
			slog.Uint64("student_id", uint64(studentID)),
			slog.Any("error", err),
		)
	}
}
