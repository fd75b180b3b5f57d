package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/portfolio"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/tasks"
)

// PortfolioService 是 portfolio.Aggregator 中 worker 用到的部分。
type PortfolioService interface {
	Regenerate(ctx context.Context, studentID uint) (*database.Portfolio, error)
	Student(ctx context.Context, studentID uint) (*database.Student, error)
	SetPDFObjectKey(ctx context.Context, studentID uint, key string) error
}

// GuardianLister 列出学生的监护人，用于广播通知。
type GuardianLister interface {
	Guardians(ctx context.Context, studentID uint) ([]uint, error)
}

// ObjectUploader 是 storage.Client 中 worker 用到的部分。
type ObjectUploader interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
}

// PDFRenderer 把 HTML 渲染为 PDF，生产环境使用 (*pdf.Renderer).Render。
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

const pdfLinkTTL = 24 * time.Hour

// PDFTaskHandler 负责消费作品集 PDF 导出任务。
type PDFTaskHandler struct {
	portfolios PortfolioService
	guardians  GuardianLister
	storage    ObjectUploader
	render     PDFRenderer
	notifier   *Notifier
	logger     *slog.Logger
}

// NewPDFTaskHandler 创建任务处理器。
func NewPDFTaskHandler(
	portfolios PortfolioService,
	guardians GuardianLister,
	storage ObjectUploader,
	render PDFRenderer,
	notifier *Notifier,
	logger *slog.Logger,
) *PDFTaskHandler {
	return &PDFTaskHandler{
		portfolios: portfolios,
		guardians:  guardians,
		storage:    storage,
		render:     render,
		notifier:   notifier,
		logger:     logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	payload, err := tasks.ParsePortfolioPayload(t)
	if err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("student_id", uint64(payload.StudentID)),
	)
	log.Info("starting portfolio pdf export")

	recipients, err := h.recipients(ctx, payload)
	if err != nil {
		log.Error("list recipients failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		code := errcode.SystemError
		if errors.Is(retErr, errcode.NotFound) {
			code = errcode.ResourceMissing
		}
		notify := PortfolioNotifyMessage{
			Event:         EventPortfolioPDF,
			Status:        "error",
			StudentID:     payload.StudentID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     code,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.notifier.Notify(ctx, recipients, notify); err != nil {
			log.Error("publish pdf error notification failed", slog.Any("error", err))
		}
	}()

	snapshot, err := h.portfolios.Regenerate(ctx, payload.StudentID)
	if err != nil {
		if errors.Is(err, errcode.NotFound) {
			log.Warn("student not found, skipping task")
			return nil
		}
		log.Error("regenerate portfolio failed", slog.Any("error", err))
		return err
	}
	student, err := h.portfolios.Student(ctx, payload.StudentID)
	if err != nil {
		log.Error("load student failed", slog.Any("error", err))
		return err
	}

	html, err := portfolio.RenderHTML(snapshot, student)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	pdfBytes, err := h.render(ctx, html)
	if err != nil {
		log.Error("render pdf failed", slog.Any("error", err))
		return err
	}

	objectName := storage.PortfolioPDFKey(payload.StudentID)
	if _, err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}
	if err := h.portfolios.SetPDFObjectKey(ctx, payload.StudentID, objectName); err != nil {
		log.Error("save pdf key failed", slog.Any("error", err))
		return err
	}

	url, err := h.storage.GeneratePresignedURL(ctx, objectName, pdfLinkTTL)
	if err != nil {
		log.Warn("presign pdf failed", slog.Any("error", err))
	}

	notify := PortfolioNotifyMessage{
		Event:         EventPortfolioPDF,
		Status:        "completed",
		StudentID:     payload.StudentID,
		CorrelationID: payload.CorrelationID,
		CompletionPct: snapshot.CompletionPct,
		PDFURL:        url,
		ErrorCode:     errcode.OK,
	}
	if err := h.notifier.Notify(ctx, recipients, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("portfolio pdf export completed", slog.Int("bytes", len(pdfBytes)))
	return nil
}

// recipients 优先通知发起导出的用户，否则通知全部监护人。
func (h *PDFTaskHandler) recipients(ctx context.Context, payload tasks.PortfolioPayload) ([]uint, error) {
	if payload.RequestedBy != 0 {
		return []uint{payload.RequestedBy}, nil
	}
	return h.guardians.Guardians(ctx, payload.StudentID)
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
