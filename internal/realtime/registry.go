// Package realtime 维护本进程的客户端连接，并把总线上的用户事件推送给它们。
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/metrics"
)

// DefaultSendTimeout 是单个连接一次发送的超时
const DefaultSendTimeout = 5 * time.Second

// Conn 是一个已认证的客户端连接（websocket 或 SSE）。
type Conn interface {
	ID() string
	Send(ctx context.Context, event events.Event) error
	Close() error
}

type userConns struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}
}

// Registry 记录每个用户在本进程持有的连接。
type Registry struct {
	mu          sync.Mutex
	users       map[uint]*userConns
	sendTimeout time.Duration
}

// NewRegistry 创建连接表；sendTimeout<=0 时使用 DefaultSendTimeout。
func NewRegistry(sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Registry{
		users:       make(map[uint]*userConns),
		sendTimeout: sendTimeout,
	}
}

// Register 把连接加入用户的连接集合。
func (r *Registry) Register(conn Conn, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = &userConns{conns: make(map[Conn]struct{})}
		r.users[userID] = set
	}

	set.mu.Lock()
	if _, exists := set.conns[conn]; !exists {
		set.conns[conn] = struct{}{}
		metrics.LiveConnections.Inc()
	}
	set.mu.Unlock()
}

// Unregister 移除连接，集合为空时删除该用户条目。重复调用无副作用。
func (r *Registry) Unregister(conn Conn, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return
	}

	set.mu.Lock()
	if _, exists := set.conns[conn]; exists {
		delete(set.conns, conn)
		metrics.LiveConnections.Dec()
	}
	empty := len(set.conns) == 0
	set.mu.Unlock()

	if empty {
		delete(r.users, userID)
	}
}

// Count 返回用户当前的连接数。
func (r *Registry) Count(userID uint) int {
	r.mu.Lock()
	set, ok := r.users[userID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.conns)
}

// Users 返回当前有连接的用户数。
func (r *Registry) Users() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Registry) snapshot(userID uint) []Conn {
	r.mu.Lock()
	set, ok := r.users[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	out := make([]Conn, 0, len(set.conns))
	for conn := range set.conns {
		out = append(out, conn)
	}
	return out
}

// Deliver 并发发送给用户的全部连接，返回成功的数量。
// 发送失败或超时的连接会被关闭并移除，不影响其他连接；没有连接时静默丢弃。
func (r *Registry) Deliver(ctx context.Context, userID uint, event events.Event) int {
	conns := r.snapshot(userID)
	if len(conns) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, conn := range conns {
		wg.Add(1)
		go func(conn Conn) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()

			if err := conn.Send(sendCtx, event); err != nil {
				metrics.Deliveries.WithLabelValues("failed").Inc()
				logger.L().Info("connection_evicted",
					zap.Uint("user_id", userID),
					zap.String("conn_id", conn.ID()),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
				r.Unregister(conn, userID)
				_ = conn.Close()
				return
			}
			metrics.Deliveries.WithLabelValues("ok").Inc()
			delivered.Add(1)
		}(conn)
	}
	wg.Wait()
	return int(delivered.Load())
}
