package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/metrics"
)

// Listener 是每个进程唯一的总线消费者，把 user:* 上的事件按用户分发给 Registry。
type Listener struct {
	bus      events.Bus
	registry *Registry
	pattern  string
	backoff  Backoff
	queues   *dispatcher
	ready    chan struct{}
}

// NewListener 创建监听器；由进程生命周期显式 Run 与取消。
func NewListener(bus events.Bus, registry *Registry) *Listener {
	return &Listener{
		bus:      bus,
		registry: registry,
		pattern:  events.UserTopicPattern,
		backoff:  DefaultBackoff,
		queues:   newDispatcher(registry, DefaultUserQueueSize),
		ready:    make(chan struct{}),
	}
}

// Ready 在首次订阅成功后关闭。
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run 阻塞直到 ctx 结束。订阅失败或订阅流关闭时按退避无限重试。
func (l *Listener) Run(ctx context.Context) error {
	defer l.queues.wait()

	attempt := 0
	first := true
	for {
		sub, err := l.bus.Subscribe(ctx, l.pattern)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.L().Warn("listener_subscribe_failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if !l.backoff.Wait(ctx, attempt) {
				return nil
			}
			attempt++
			continue
		}

		attempt = 0
		if first {
			close(l.ready)
			first = false
		}
		logger.L().Info("listener_subscribed", zap.String("pattern", l.pattern))

		l.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}

		metrics.ListenerRestarts.Inc()
		logger.L().Warn("listener_stream_closed")
		if !l.backoff.Wait(ctx, attempt) {
			return nil
		}
	}
}

func (l *Listener) consume(ctx context.Context, sub events.Subscription) {
	stream := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if event.UserID == 0 {
				logger.L().Warn("listener_event_without_user", zap.String("event_id", event.ID))
				continue
			}
			l.queues.dispatch(ctx, event)
		}
	}
}
