package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer 是 *asynq.Client 中用到的部分。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler 把作品集任务放入 asynq 队列。
type Scheduler struct {
	client     Enqueuer
	debounce   time.Duration
	maxRetry   int
	pdfTimeout time.Duration
}

// NewScheduler 构造 Scheduler。debounce 内对同一学生的重复再生成请求只保留一个。
func NewScheduler(client Enqueuer, debounce time.Duration) *Scheduler {
	return &Scheduler{
		client:     client,
		debounce:   debounce,
		maxRetry:   5,
		pdfTimeout: 2 * time.Minute,
	}
}

// ScheduleRegeneration 在 debounce 之后再生成作品集；窗口内已有任务时直接返回。
func (s *Scheduler) ScheduleRegeneration(ctx context.Context, studentID uint) error {
	task, err := NewPortfolioRegenerateTask(studentID)
	if err != nil {
		return fmt.Errorf("build regenerate task: %w", err)
	}

	opts := []asynq.Option{asynq.MaxRetry(s.maxRetry)}
	if s.debounce > 0 {
		opts = append(opts,
			asynq.ProcessIn(s.debounce),
			asynq.Unique(s.debounce),
		)
	}
	_, err = s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue regenerate task: %w", err)
	}
	return nil
}

// EnqueuePDF 提交 PDF 导出任务，返回任务 ID。
func (s *Scheduler) EnqueuePDF(ctx context.Context, studentID, requestedBy uint) (string, error) {
	task, err := NewPortfolioPDFTask(studentID, requestedBy, CorrelationID(ctx))
	if err != nil {
		return "", fmt.Errorf("build pdf task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(s.maxRetry),
		asynq.Timeout(s.pdfTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue pdf task: %w", err)
	}
	return info.ID, nil
}
