package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/errcode"
	"dreamGarden/internal/portfolio"
	"dreamGarden/internal/record"
)

// PDFEnqueuer 提交作品集 PDF 导出任务。
type PDFEnqueuer interface {
	EnqueuePDF(ctx context.Context, studentID, requestedBy uint) (string, error)
}

// Presigner 为已导出的 PDF 签发下载链接。
type Presigner interface {
	GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error)
}

const pdfDownloadTTL = 10 * time.Minute

// PortfolioHandler 暴露作品集读取、再生成与 PDF 导出。
type PortfolioHandler struct {
	aggregator *portfolio.Aggregator
	students   record.Authorizer
	pdfQueue   PDFEnqueuer
	presigner  Presigner
}

func NewPortfolioHandler(aggregator *portfolio.Aggregator, students record.Authorizer, pdfQueue PDFEnqueuer, presigner Presigner) *PortfolioHandler {
	return &PortfolioHandler{
		aggregator: aggregator,
		students:   students,
		pdfQueue:   pdfQueue,
		presigner:  presigner,
	}
}

func (h *PortfolioHandler) GetPortfolio(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.aggregator.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPortfolioResponse(p))
}

// Regenerate 同步再生成并返回新的快照。
func (h *PortfolioHandler) Regenerate(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.aggregator.RegenerateFor(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPortfolioResponse(p))
}

// RequestPDF 异步导出 PDF，完成后通过 WebSocket 通知发起人。
func (h *PortfolioHandler) RequestPDF(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.students.Authorize(c.Request.Context(), actor, id); err != nil {
		writeError(c, err)
		return
	}
	taskID, err := h.pdfQueue.EnqueuePDF(c.Request.Context(), id, actor.UserID)
	if err != nil {
		writeError(c, errcode.Wrap(err, "enqueue pdf export"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// GetPDF 返回最近一次导出的 PDF 下载链接。
func (h *PortfolioHandler) GetPDF(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.aggregator.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if p.PDFObjectKey == "" {
		writeError(c, errcode.New(errcode.NotFound, "portfolio pdf has not been exported yet"))
		return
	}
	url, err := h.presigner.GeneratePresignedURLWithParams(c.Request.Context(), p.PDFObjectKey, pdfDownloadTTL, map[string]string{
		"response-content-disposition": `attachment; filename="portfolio.pdf"`,
	})
	if err != nil {
		writeError(c, errcode.Wrap(err, "presign portfolio pdf"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
