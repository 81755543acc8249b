package service

import (
	"context"

	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/metrics"
	"go.uber.org/zap"
)

// publishAll 在事务提交后把事件发布到各自用户的主题。
// 发布失败只记录与计数，不影响已经提交的写入。
func publishAll(ctx context.Context, bus events.Bus, evts []events.Event) {
	if bus == nil || len(evts) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, e := range evts {
		if err := bus.Publish(ctx, events.Topic(e.UserID), e); err != nil {
			metrics.EventPublishFailures.Inc()
			logger.L().Warn("event_publish_failed",
				zap.String("type", string(e.Type)),
				zap.Uint("user_id", e.UserID),
				zap.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	}
}
