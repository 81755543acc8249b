package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

const (
	connectedMessage = "Connected to real-time updates"
	// 客户端帧只用于保活，超过该时间没有任何帧视为断开
	wsIdleTimeout = 90 * time.Second
	sseBuffer     = 32
)

var (
	pingRate  = rate.Every(time.Second)
	pingBurst = 5

	errConnClosed = errors.New("connection closed")
)

// wsConn 把 websocket 连接适配为 realtime.Conn，写操作串行
type wsConn struct {
	id        string
	ws        *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (w *wsConn) ID() string { return w.id }

func (w *wsConn) Send(ctx context.Context, event events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(realtime.DefaultSendTimeout)
	}
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return websocket.JSON.Send(w.ws, event)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.ws.Close() })
	return err
}

// ServeWebSocket 升级连接，先发送 connected，然后登记到连接表接收推送
func (a *API) ServeWebSocket(c *gin.Context) {
	userID := currentUserID(c)
	server := websocket.Server{
		// 认证已由中间件完成，不校验 Origin
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			a.runWebSocket(ws, userID)
		},
	}
	server.ServeHTTP(c.Writer, c.Request)
}

func (a *API) runWebSocket(ws *websocket.Conn, userID uint) {
	conn := &wsConn{id: uuid.NewString(), ws: ws}
	ctx := ws.Request().Context()

	if err := a.sendWithTimeout(ctx, conn, a.connectedEvent(userID)); err != nil {
		conn.Close()
		return
	}

	a.registry.Register(conn, userID)
	defer func() {
		a.registry.Unregister(conn, userID)
		conn.Close()
	}()

	limiter := rate.NewLimiter(pingRate, pingBurst)
	for {
		if err := ws.SetReadDeadline(time.Now().Add(wsIdleTimeout)); err != nil {
			return
		}
		var frame string
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.L().Debug("websocket_closed", zap.Uint("user_id", userID), zap.Error(err))
			}
			return
		}
		// 超出频率的 ping 直接忽略
		if !limiter.Allow() {
			continue
		}
		pong := events.New(events.TypePong, userID, nil).Stamp(a.now())
		if err := a.sendWithTimeout(ctx, conn, pong); err != nil {
			return
		}
	}
}

func (a *API) sendWithTimeout(ctx context.Context, conn realtime.Conn, event events.Event) error {
	sendCtx, cancel := context.WithTimeout(ctx, realtime.DefaultSendTimeout)
	defer cancel()
	return conn.Send(sendCtx, event)
}

func (a *API) connectedEvent(userID uint) events.Event {
	return events.New(events.TypeConnected, userID, map[string]any{
		"message": connectedMessage,
		"user_id": userID,
	}).Stamp(a.now())
}

// sseConn 通过缓冲通道把事件交给 SSE 请求协程写出
type sseConn struct {
	id        string
	out       chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEConn() *sseConn {
	return &sseConn{
		id:   uuid.NewString(),
		out:  make(chan events.Event, sseBuffer),
		done: make(chan struct{}),
	}
}

func (s *sseConn) ID() string { return s.id }

func (s *sseConn) Send(ctx context.Context, event events.Event) error {
	select {
	case <-s.done:
		return errConnClosed
	default:
	}
	select {
	case s.out <- event:
		return nil
	case <-s.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sseConn) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// StreamEvents 以 Server-Sent Events 推送当前用户的事件
func (a *API) StreamEvents(c *gin.Context) {
	userID := currentUserID(c)
	conn := newSSEConn()

	a.registry.Register(conn, userID)
	defer func() {
		a.registry.Unregister(conn, userID)
		conn.Close()
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	connected := a.connectedEvent(userID)
	c.SSEvent(string(connected.Type), connected)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-conn.out:
			c.SSEvent(string(event.Type), event)
			return true
		case <-conn.done:
			return false
		case <-ctx.Done():
			return false
		}
	})
}
