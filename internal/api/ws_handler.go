package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"dreamGarden/internal/api/middleware"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/record"
	"dreamGarden/internal/worker"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 5 * time.Second
)

// NotificationSource 按用户订阅作品集通知。返回的 channel 在 ctx 结束或订阅关闭后关闭。
type NotificationSource interface {
	Subscribe(ctx context.Context, userID uint) (<-chan []byte, error)
}

// RedisNotifications 从 worker 发布的 user_notify:<id> 频道读取通知。
type RedisNotifications struct {
	Client *redis.Client
}

func (r RedisNotifications) Subscribe(ctx context.Context, userID uint) (<-chan []byte, error) {
	pubsub := r.Client.Subscribe(ctx, worker.NotifyChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", worker.NotifyChannel(userID), err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WsHandler 负责 WebSocket 鉴权与通知转发。
//
// 协议：客户端连接后先发送 {"type":"auth","token":...}，收到 {"type":"authenticated"} 后
// 可发送 {"type":"watch","student_id":N} / {"type":"unwatch",...} 只接收关注学生的通知；
// 未关注任何学生时转发全部通知。
type WsHandler struct {
	source         NotificationSource
	tokens         middleware.TokenVerifier
	resolver       middleware.IdentityResolver
	students       record.Authorizer
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。allowedOrigins 为空时只允许同源。
func NewWsHandler(
	source NotificationSource,
	tokens middleware.TokenVerifier,
	resolver middleware.IdentityResolver,
	students record.Authorizer,
	logger *slog.Logger,
	allowedOrigins []string,
) *WsHandler {
	h := &WsHandler{
		source:         source,
		tokens:         tokens,
		resolver:       resolver,
		students:       students,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

type wsClientMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	StudentID uint   `json:"student_id,omitempty"`
}

type wsServerMessage struct {
	Type      string `json:"type"`
	StudentID uint   `json:"student_id,omitempty"`
	Code      int    `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// wsSession 是单条连接的状态。gorilla 连接只允许一个并发写者，写操作经 mu 串行化。
type wsSession struct {
	conn  *websocket.Conn
	actor identity.Actor

	mu      sync.Mutex
	watched map[uint]bool
}

func (s *wsSession) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) writeRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) setWatched(studentID uint, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.watched[studentID] = true
	} else {
		delete(s.watched, studentID)
	}
}

// wants 判断通知是否应转发给该连接。
func (s *wsSession) wants(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.watched) == 0 {
		return true
	}
	var msg worker.PortfolioNotifyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return false
	}
	return s.watched[msg.StudentID]
}

// HandleConnection 升级连接，完成鉴权后并发运行读、转发与关闭三个循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	actor, err := h.awaitAuth(c.Request.Context(), conn)
	if err != nil {
		log.Warn("websocket authentication failed", slog.Any("error", err))
		writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	log = log.With(slog.Uint64("user_id", uint64(actor.UserID)))

	g, ctx := errgroup.WithContext(c.Request.Context())
	notifications, err := h.source.Subscribe(ctx, actor.UserID)
	if err != nil {
		log.Error("subscribe notifications failed", slog.Any("error", err))
		writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}

	sess := &wsSession{conn: conn, actor: actor, watched: map[uint]bool{}}
	if err := sess.writeJSON(wsServerMessage{Type: "authenticated"}); err != nil {
		return
	}
	log.Info("websocket authenticated")

	g.Go(func() error { return h.readLoop(ctx, sess) })
	g.Go(func() error { return h.forwardLoop(ctx, sess, notifications) })
	g.Go(func() error {
		// ReadMessage 不感知 ctx，关闭连接让读循环退出。
		<-ctx.Done()
		return conn.Close()
	})

	if err := g.Wait(); err != nil && !isNormalClose(err) {
		log.Info("websocket connection closed", slog.Any("error", err))
		return
	}
	log.Info("websocket connection closed")
}

// awaitAuth 读取第一条消息并解析为已完成资料的调用者。
func (h *WsHandler) awaitAuth(ctx context.Context, conn *websocket.Conn) (identity.Actor, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var msg wsClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return identity.Actor{}, fmt.Errorf("read auth message: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		return identity.Actor{}, errors.New("auth message required")
	}

	claims, err := h.tokens.ValidateToken(msg.Token)
	if err != nil {
		return identity.Actor{}, fmt.Errorf("validate token: %w", err)
	}
	id, err := h.resolver.Resolve(ctx, identity.Principal{Subject: claims.Subject, Email: claims.Email})
	if err != nil {
		return identity.Actor{}, fmt.Errorf("resolve principal: %w", err)
	}
	return id.Actor()
}

func (h *WsHandler) readLoop(ctx context.Context, sess *wsSession) error {
	for {
		var msg wsClientMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case "watch", "unwatch":
			if msg.StudentID == 0 {
				if err := sess.writeJSON(wsError(errcode.New(errcode.ValidationError, "student_id is required"))); err != nil {
					return err
				}
				continue
			}
			if _, err := h.students.Authorize(ctx, sess.actor, msg.StudentID); err != nil {
				if err := sess.writeJSON(wsError(err)); err != nil {
					return err
				}
				continue
			}
			sess.setWatched(msg.StudentID, msg.Type == "watch")
			reply := wsServerMessage{Type: "watching", StudentID: msg.StudentID}
			if msg.Type == "unwatch" {
				reply.Type = "unwatched"
			}
			if err := sess.writeJSON(reply); err != nil {
				return err
			}
		default:
			if err := sess.writeJSON(wsError(errcode.New(errcode.ValidationError, "unknown message type %q", msg.Type))); err != nil {
				return err
			}
		}
	}
}

func (h *WsHandler) forwardLoop(ctx context.Context, sess *wsSession, notifications <-chan []byte) error {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-notifications:
			if !ok {
				return errors.New("notification subscription closed")
			}
			if !sess.wants(payload) {
				continue
			}
			if err := sess.writeRaw(payload); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func wsError(err error) wsServerMessage {
	_, body := middleware.NewErrorResponse(err)
	return wsServerMessage{Type: "error", Code: body.Code, Error: body.Error}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}

func isNormalClose(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
