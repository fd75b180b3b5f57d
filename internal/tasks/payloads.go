package tasks

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePortfolioRegenerate = "portfolio:regenerate"
	TypePortfolioPDF        = "portfolio:pdf"
)

// PortfolioPayload 是作品集相关任务的公共负载。
type PortfolioPayload struct {
	StudentID     uint   `json:"student_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	RequestedBy   uint   `json:"requested_by,omitempty"`
}

// NewPortfolioRegenerateTask 构造作品集再生成任务。
// 负载只含学生 ID：asynq.Unique 按 队列+类型+负载 去重，同一学生的多次请求必须得到相同负载。
// 合并后的任务对应多个请求，因此不携带 Correlation ID。
func NewPortfolioRegenerateTask(studentID uint) (*asynq.Task, error) {
	return newPortfolioTask(TypePortfolioRegenerate, PortfolioPayload{StudentID: studentID})
}

// NewPortfolioPDFTask 构造作品集 PDF 导出任务，requestedBy 会收到完成通知。
func NewPortfolioPDFTask(studentID, requestedBy uint, correlationID string) (*asynq.Task, error) {
	return newPortfolioTask(TypePortfolioPDF, PortfolioPayload{
		StudentID:     studentID,
		CorrelationID: correlationID,
		RequestedBy:   requestedBy,
	})
}

func newPortfolioTask(taskType string, p PortfolioPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload), nil
}

// ParsePortfolioPayload 解析任务负载。
func ParsePortfolioPayload(t *asynq.Task) (PortfolioPayload, error) {
	var p PortfolioPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}

type correlationKey struct{}

// WithCorrelationID 把请求的 Correlation ID 放进 context，入队时随任务一起传递。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID 取出 context 中的 Correlation ID。
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
