package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/stats"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 定时任务名称
const (
	JobDetectRisks   = "detect-risks"
	JobNudges        = "nudges"
	JobUpdateStreaks = "update-streaks"
)

// DefaultNudgeInactiveDays 是判定习惯“不活跃”的默认天数
const DefaultNudgeInactiveDays = 2

// JobReport 汇总一次任务执行的结果
type JobReport struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Notified  int    `json:"notified"`
}

// HousekeepingService 执行定期的风险检测、提醒与连胜刷新
type HousekeepingService struct {
	db           *gorm.DB
	habits       *HabitService
	bus          events.Bus
	inactiveDays int
}

// NewHousekeepingService 构造 HousekeepingService
func NewHousekeepingService(gdb *gorm.DB, habits *HabitService, bus events.Bus) *HousekeepingService {
	return &HousekeepingService{db: gdb, habits: habits, bus: bus, inactiveDays: DefaultNudgeInactiveDays}
}

// WithInactiveDays 调整提醒的不活跃天数
func (s *HousekeepingService) WithInactiveDays(days int) *HousekeepingService {
	if days > 0 {
		s.inactiveDays = days
	}
	return s
}

// Run 按名称执行任务
func (s *HousekeepingService) Run(ctx context.Context, job string) (JobReport, error) {
	switch job {
	case JobDetectRisks:
		return s.DetectRisks(ctx)
	case JobNudges:
		return s.Nudges(ctx)
	case JobUpdateStreaks:
		return s.UpdateStreaks(ctx)
	default:
		return JobReport{}, fmt.Errorf("unknown job %q", job)
	}
}

// DetectRisks 重算所有 active 习惯，随日期推移转为 at_risk 的习惯会发布 habit_at_risk
func (s *HousekeepingService) DetectRisks(ctx context.Context) (JobReport, error) {
	return s.recomputeWhere(ctx, JobDetectRisks, []stats.Status{stats.StatusActive})
}

// UpdateStreaks 刷新 active 与 at_risk 习惯的连胜与一致性
func (s *HousekeepingService) UpdateStreaks(ctx context.Context) (JobReport, error) {
	return s.recomputeWhere(ctx, JobUpdateStreaks, []stats.Status{stats.StatusActive, stats.StatusAtRisk})
}

func (s *HousekeepingService) recomputeWhere(ctx context.Context, job string, statuses []stats.Status) (JobReport, error) {
	report := JobReport{Job: job}

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&db.Habit{}).
		Where("status IN ?", statuses).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return report, fmt.Errorf("list habits: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.habits.RecomputeAll(ctx, id); err != nil {
			report.Failed++
			logger.L().Warn("habit_recompute_failed", zap.String("job", job), zap.Uint("habit_id", id), zap.Error(err))
			continue
		}
		report.Processed++
	}
	return report, nil
}

// DetectRisksForUser 只重算该用户的 active 习惯，返回本次转为 at_risk 的习惯
func (s *HousekeepingService) DetectRisksForUser(ctx context.Context, userID uint) ([]db.Habit, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&db.Habit{}).
		Where("user_id = ? AND status = ?", userID, stats.StatusActive).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	atRisk := make([]db.Habit, 0)
	for _, id := range ids {
		habit, err := s.habits.Recompute(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if habit.Status == stats.StatusAtRisk {
			atRisk = append(atRisk, *habit)
		}
	}
	return atRisk, nil
}

type inactiveHabit struct {
	ID       uint
	UserID   uint
	Name     string
	LastDate *time.Time
}

// Nudges 为每个有不活跃习惯的用户发布一条 nudge 事件
func (s *HousekeepingService) Nudges(ctx context.Context) (JobReport, error) {
	report := JobReport{Job: JobNudges}
	today := s.habits.Today()
	cutoff := today.AddDate(0, 0, -s.inactiveDays)

	var habits []db.Habit
	gdb := s.db.WithContext(ctx)
	if err := gdb.Where("status = ?", stats.StatusActive).Order("user_id ASC, id ASC").Find(&habits).Error; err != nil {
		return report, fmt.Errorf("list habits: %w", err)
	}

	byUser := make(map[uint][]inactiveHabit)
	var users []uint
	for _, h := range habits {
		report.Processed++

		var recent int64
		if err := gdb.Model(&db.HabitLog{}).
			Where("habit_id = ? AND log_date >= ?", h.ID, cutoff).
			Count(&recent).Error; err != nil {
			return report, fmt.Errorf("count recent logs: %w", err)
		}
		if recent > 0 {
			continue
		}

		var last db.HabitLog
		item := inactiveHabit{ID: h.ID, UserID: h.UserID, Name: h.Name}
		if found := gdb.Where("habit_id = ?", h.ID).Order("log_date DESC").Limit(1).Find(&last); found.Error == nil && found.RowsAffected == 1 {
			item.LastDate = &last.LogDate
		}

		if _, ok := byUser[h.UserID]; !ok {
			users = append(users, h.UserID)
		}
		byUser[h.UserID] = append(byUser[h.UserID], item)
	}

	evts := make([]events.Event, 0, len(users))
	for _, userID := range users {
		evts = append(evts, nudgeEvent(userID, byUser[userID], today))
	}
	publishAll(ctx, s.bus, evts)
	report.Notified = len(evts)
	return report, nil
}

func nudgeEvent(userID uint, habits []inactiveHabit, today time.Time) events.Event {
	items := make([]map[string]any, 0, len(habits))
	for _, h := range habits {
		lastSeen := "never logged"
		if h.LastDate != nil {
			lastSeen = "last logged " + humanize.RelTime(*h.LastDate, today, "ago", "from now")
		}
		items = append(items, map[string]any{
			"id":        h.ID,
			"name":      h.Name,
			"last_seen": lastSeen,
		})
	}

	return events.New(events.TypeNudge, userID, map[string]any{
		"message": fmt.Sprintf("You have %s", english.Plural(len(habits), "inactive habit", "")),
		"habits":  items,
	})
}
