// Package scheduler 按 cron 表达式周期执行维护任务（风险检测、提醒、连胜重算）。
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/metrics"
	"github.com/habitpulse/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// retryDelay 是计算下一次触发失败后的等待时间
const retryDelay = 30 * time.Second

// Runner 按名称执行任务，由 service.HousekeepingService 实现
type Runner interface {
	Run(ctx context.Context, job string) (service.JobReport, error)
}

// Entry 把任务名与 cron 表达式绑定，Cron 为空表示禁用
type Entry struct {
	Job  string
	Cron string
}

// Scheduler 为每个任务维护一个独立的循环，同一任务不会并发执行
type Scheduler struct {
	runner  Runner
	entries []Entry
	loc     *time.Location
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// New 校验 cron 表达式并创建调度器
func New(runner Runner, entries ...Entry) (*Scheduler, error) {
	enabled := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Cron = strings.TrimSpace(e.Cron)
		if e.Cron == "" {
			continue
		}
		if !gronx.IsValid(e.Cron) {
			return nil, fmt.Errorf("invalid cron expression for %s: %q", e.Job, e.Cron)
		}
		enabled = append(enabled, e)
	}

	return &Scheduler{
		runner:  runner,
		entries: enabled,
		loc:     time.UTC,
		now:     time.Now,
		after:   time.After,
	}, nil
}

// WithLocation 设置解释 cron 表达式的时区
func (s *Scheduler) WithLocation(loc *time.Location) *Scheduler {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithClock 允许测试替换时钟与等待函数
func (s *Scheduler) WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	if after != nil {
		s.after = after
	}
	return s
}

// Entries 返回启用的任务
func (s *Scheduler) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Run 阻塞运行所有任务循环，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		g.Go(func() error {
			s.loop(ctx, e)
			return nil
		})
	}
	logger.L().Info("scheduler_started", zap.Int("jobs", len(s.entries)))
	err := g.Wait()
	logger.L().Info("scheduler_stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	for {
		next, err := gronx.NextTickAfter(e.Cron, s.now().In(s.loc), false)
		wait := retryDelay
		if err != nil {
			logger.L().Error("scheduler_next_tick_failed", zap.String("job", e.Job), zap.String("cron", e.Cron), zap.Error(err))
		} else {
			wait = max(next.Sub(s.now()), 0)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}

		if err == nil {
			_, _ = s.RunOnce(ctx, e.Job)
		}
	}
}

// RunOnce 立即执行一次任务并记录结果
func (s *Scheduler) RunOnce(ctx context.Context, job string) (service.JobReport, error) {
	start := time.Now()
	report, err := s.runner.Run(ctx, job)
	if err != nil {
		metrics.JobRuns.WithLabelValues(job, "error").Inc()
		logger.L().Error("job_failed", zap.String("job", job), zap.Error(err))
		return report, err
	}

	metrics.JobRuns.WithLabelValues(job, "ok").Inc()
	logger.L().Info("job_finished",
		zap.String("job", job),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("notified", report.Notified),
		zap.Duration("took", time.Since(start)),
	)
	return report, nil
}
