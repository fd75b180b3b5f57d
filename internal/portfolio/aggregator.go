// Package portfolio 从学生的记录集合推导作品集快照。
//
// 快照是只读投影：只能通过 Regenerate 重新计算，计算失败时保留上一份快照。
package portfolio

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/metrics"
	"dreamGarden/internal/record"
)

// DefaultTopCompetencies 是核心能力的默认数量。
const DefaultTopCompetencies = 5

// Aggregator 负责作品集的再生成与读取。
type Aggregator struct {
	db          *gorm.DB
	students    record.Authorizer
	cache       Cache
	logger      *slog.Logger
	topN        int
	readRetries uint64
}

// NewAggregator 构造 Aggregator。cache 可以为 nil。
func NewAggregator(db *gorm.DB, students record.Authorizer, cache Cache, logger *slog.Logger, topN int, readRetries uint64) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if topN <= 0 {
		topN = DefaultTopCompetencies
	}
	return &Aggregator{
		db:          db,
		students:    students,
		cache:       cache,
		logger:      logger,
		topN:        topN,
		readRetries: readRetries,
	}
}

// Regenerate 重新计算学生的作品集并保存。
// 记录与能力目录并发读取，不加快照锁；写入（引用计数、快照、学生完成度）在一个事务内完成。
func (a *Aggregator) Regenerate(ctx context.Context, studentID uint) (*database.Portfolio, error) {
	var (
		student database.Student
		records []database.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return database.Read(gctx, a.readRetries, func() error {
			return a.db.WithContext(gctx).First(&student, studentID).Error
		})
	})
	g.Go(func() error {
		return database.Read(gctx, a.readRetries, func() error {
			records = nil
			return a.db.WithContext(gctx).
				Where("student_id = ?", studentID).
				Order("created_at ASC").Order("id ASC").
				Find(&records).Error
		})
	})
	if err := g.Wait(); err != nil {
		metrics.PortfolioRegenerations.WithLabelValues("error").Inc()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "student %d not found", studentID)
		}
		return nil, errcode.Wrap(err, "load records of student %d", studentID)
	}

	cited := CitedCompetencyIDs(records)
	timeline := EmotionTimeline(records)
	completion := CompletionPct(records)

	var saved database.Portfolio
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		competencies, err := recountCitations(tx, cited)
		if err != nil {
			return err
		}

		key := KeyCompetencies(cited, competencies, a.topN)
		jobs := RecommendedJobs(key)
		snapshot := database.Portfolio{
			StudentID:       studentID,
			GeneratedAt:     database.Now(),
			CompletionPct:   completion,
			RecordCount:     len(records),
			SummaryText:     Summary(student.Name, len(records), key, timeline, jobs),
			KeyCompetencies: key,
			RecommendedJobs: jobs,
			EmotionTimeline: timeline,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "student_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"updated_at",
				"generated_at",
				"completion_pct",
				"record_count",
				"summary_text",
				"key_competencies",
				"recommended_jobs",
				"emotion_timeline",
			}),
		}).Create(&snapshot).Error
		if err != nil {
			return err
		}

		if err := tx.Model(&database.Student{}).
			Where("id = ?", studentID).
			Update("portfolio_completion_pct", completion).Error; err != nil {
			return err
		}
		return tx.Where("student_id = ?", studentID).First(&saved).Error
	})
	if err != nil {
		metrics.PortfolioRegenerations.WithLabelValues("error").Inc()
		a.logger.Error("portfolio regeneration failed",
			slog.Uint64("student_id", uint64(studentID)),
			slog.Any("error", err),
		)
		return nil, errcode.Wrap(err, "save portfolio of student %d", studentID)
	}

	metrics.PortfolioRegenerations.WithLabelValues("ok").Inc()
	a.logger.Info("portfolio regenerated",
		slog.Uint64("student_id", uint64(studentID)),
		slog.Int("record_count", saved.RecordCount),
		slog.Int("completion_pct", saved.CompletionPct),
	)
	a.storeInCache(ctx, &saved)
	return &saved, nil
}

// recountCitations 按未删除记录重新统计被引用能力的 RecordCitationCount，返回更新后的能力。
func recountCitations(tx *gorm.DB, ids []uint) (map[uint]database.Competency, error) {
	out := make(map[uint]database.Competency, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []struct {
		CompetencyID uint
		Citations    int
	}
	err := tx.Table("record_competencies").
		Select("record_competencies.competency_id AS competency_id, COUNT(*) AS citations").
		Joins("JOIN records ON records.id = record_competencies.record_id AND records.deleted_at IS NULL").
		Where("record_competencies.competency_id IN ?", ids).
		Group("record_competencies.competency_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int, len(rows))
	for _, row := range rows {
		counts[row.CompetencyID] = row.Citations
	}

	var competencies []database.Competency
	if err := tx.Where("id IN ?", ids).Order("id ASC").Find(&competencies).Error; err != nil {
		return nil, err
	}
	for _, c := range competencies {
		n := counts[c.ID]
		if c.RecordCitationCount != n {
			if err := tx.Model(&database.Competency{}).Where("id = ?", c.ID).
				UpdateColumn("record_citation_count", n).Error; err != nil {
				return nil, err
			}
			c.RecordCitationCount = n
		}
		out[c.ID] = c
	}
	return out, nil
}

// Get 返回作品集：先查缓存，再查库，都没有时现场生成。
func (a *Aggregator) Get(ctx context.Context, actor identity.Actor, studentID uint) (*database.Portfolio, error) {
	if _, err := a.students.Authorize(ctx, actor, studentID); err != nil {
		return nil, err
	}

	if a.cache != nil {
		cached, err := a.cache.Get(ctx, studentID)
		switch {
		case err != nil:
			a.logger.Warn("portfolio cache read failed", slog.Any("error", err))
		case cached != nil:
			metrics.PortfolioCacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.PortfolioCacheLookups.WithLabelValues("miss").Inc()
	}

	var stored database.Portfolio
	err := database.Read(ctx, a.readRetries, func() error {
		return a.db.WithContext(ctx).Where("student_id = ?", studentID).First(&stored).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return a.Regenerate(ctx, studentID)
	case err != nil:
		return nil, errcode.Wrap(err, "load portfolio of student %d", studentID)
	}
	a.storeInCache(ctx, &stored)
	return &stored, nil
}

// RegenerateFor 是带授权的 Regenerate，供 HTTP 层手动触发。
func (a *Aggregator) RegenerateFor(ctx context.Context, actor identity.Actor, studentID uint) (*database.Portfolio, error) {
	if _, err := a.students.Authorize(ctx, actor, studentID); err != nil {
		return nil, err
	}
	return a.Regenerate(ctx, studentID)
}

// SetPDFObjectKey 记录最近一次导出的 PDF 对象键，并使缓存失效。
func (a *Aggregator) SetPDFObjectKey(ctx context.Context, studentID uint, key string) error {
	res := a.db.WithContext(ctx).Model(&database.Portfolio{}).
		Where("student_id = ?", studentID).
		Update("pdf_object_key", key)
	if res.Error != nil {
		return errcode.Wrap(res.Error, "save pdf key of student %d", studentID)
	}
	if res.RowsAffected == 0 {
		return errcode.New(errcode.NotFound, "portfolio of student %d not found", studentID)
	}
	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, studentID); err != nil {
			a.logger.Warn("portfolio cache invalidate failed", slog.Any("error", err))
		}
	}
	return nil
}

// Student 读取学生（导出 PDF 时需要姓名等信息）。
func (a *Aggregator) Student(ctx context.Context, studentID uint) (*database.Student, error) {
	var s database.Student
	err := database.Read(ctx, a.readRetries, func() error {
		return a.db.WithContext(ctx).First(&s, studentID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.New(errcode.NotFound, "student %d not found", studentID)
	}
	if err != nil {
		return nil, errcode.Wrap(err, "load student %d", studentID)
	}
	return &s, nil
}

func (a *Aggregator) storeInCache(ctx context.Context, p *database.Portfolio) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, p); err != nil {
		a.logger.Warn("portfolio cache write failed",
			slog.Uint64("student_id", uint64(p.StudentID)),
			slog.Any("error", err),
		)
	}
}
