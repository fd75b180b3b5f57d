package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type PortfolioNotifyMessage struct {
	Event         string `json:"event"`
	Status        string `json:"status"`
	StudentID     uint   `json:"student_id"`
	CorrelationID string `json:"correlation_id"`
	CompletionPct int    `json:"completion_pct,omitempty"`
	PDFURL        string `json:"pdf_url,omitempty"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

const (
	EventPortfolioUpdated = "portfolio_updated"
	EventPortfolioPDF     = "portfolio_pdf"
)

// NotifyChannel 返回用户的通知频道名，WebSocket 端订阅同一频道。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Publisher 是 redis 客户端中用到的部分。
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Notifier 把任务结果推送给用户。
type Notifier struct {
	publisher Publisher
}

func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Notify 向每个用户的频道发布同一条消息，返回遇到的第一个错误。
func (n *Notifier) Notify(ctx context.Context, userIDs []uint, msg PortfolioNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	var firstErr error
	for _, id := range userIDs {
		channel := NotifyChannel(id)
		if err := n.publisher.Publish(ctx, channel, data).Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish redis notification to %q: %w", channel, err)
		}
	}
	return firstErr
}
