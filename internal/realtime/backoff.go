package realtime

import (
	"context"
	"time"
)

// Backoff 是带上限的指数退避。
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 用于监听器重新订阅
var DefaultBackoff = Backoff{Base: 100 * time.Millisecond, Max: 30 * time.Second}

// Delay 返回第 attempt 次（从 0 开始）重试前的等待时间。
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	limit := b.Max
	if limit <= 0 {
		limit = DefaultBackoff.Max
	}
	if attempt > 30 {
		return limit
	}
	wait := base * (1 << uint(attempt))
	if wait <= 0 || wait > limit {
		return limit
	}
	return wait
}

// Wait 等待退避时间，ctx 结束时提前返回 false。
func (b Backoff) Wait(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
