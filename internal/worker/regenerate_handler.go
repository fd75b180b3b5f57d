package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"dreamGarden/internal/errcode"
	"dreamGarden/internal/tasks"
)

// RegenerateTaskHandler 消费作品集再生成任务，并通知监护人。
type RegenerateTaskHandler struct {
	portfolios PortfolioService
	guardians  GuardianLister
	notifier   *Notifier
	logger     *slog.Logger
}

func NewRegenerateTaskHandler(portfolios PortfolioService, guardians GuardianLister, notifier *Notifier, logger *slog.Logger) *RegenerateTaskHandler {
	return &RegenerateTaskHandler{
		portfolios: portfolios,
		guardians:  guardians,
		notifier:   notifier,
		logger:     logger,
	}
}

// ProcessTask 实现 asynq.Handler。通知失败只记录日志，不触发重试。
func (h *RegenerateTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParsePortfolioPayload(t)
	if err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("student_id", uint64(payload.StudentID)),
	)

	snapshot, err := h.portfolios.Regenerate(ctx, payload.StudentID)
	if err != nil {
		if errors.Is(err, errcode.NotFound) {
			log.Warn("student not found, skipping task")
			return nil
		}
		return err
	}

	guardians, err := h.guardians.Guardians(ctx, payload.StudentID)
	if err != nil {
		log.Warn("list guardians failed", slog.Any("error", err))
		return nil
	}
	notify := PortfolioNotifyMessage{
		Event:         EventPortfolioUpdated,
		Status:        "completed",
		StudentID:     payload.StudentID,
		CorrelationID: payload.CorrelationID,
		CompletionPct: snapshot.CompletionPct,
		ErrorCode:     errcode.OK,
	}
	if err := h.notifier.Notify(ctx, guardians, notify); err != nil {
		log.Warn("publish portfolio update failed", slog.Any("error", err))
	}
	return nil
}
