package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/habitpulse/internal/cache"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/stats"
	"gorm.io/gorm"
)

const dashboardScope = "dashboard"

// AnalyticsService 负责习惯的统计报表，仪表盘结果带 TTL 缓存
type AnalyticsService struct {
	db     *gorm.DB
	habits *HabitService
	cache  *cache.Cache
	ttl    time.Duration
}

// StatusCounts 汇总区间内各状态的打卡数量
type StatusCounts struct {
	Done    int `json:"done"`
	Skipped int `json:"skipped"`
	Missed  int `json:"missed"`
}

// Dashboard 是用户的总体统计
type Dashboard struct {
	TotalHabits        int     `json:"total_habits"`
	ActiveHabits       int     `json:"active_habits"`
	AtRiskHabits       int     `json:"at_risk_habits"`
	TotalStreak        int     `json:"total_streak"`
	AverageConsistency float64 `json:"average_consistency"`
	TodayCompletions   int64   `json:"today_completions"`
	GeneratedAt        string  `json:"generated_at"`
}

// Heatmap 是某习惯一年内每天的完成次数
type Heatmap struct {
	Year int            `json:"year"`
	Data map[string]int `json:"data"`
}

// PeriodStats 是一周或一个月的状态统计
type PeriodStats struct {
	Start string       `json:"start"`
	End   string       `json:"end"`
	Stats StatusCounts `json:"stats"`
}

// TrendPoint 是一天的完成数
type TrendPoint struct {
	Date        string `json:"date"`
	Completions int    `json:"completions"`
}

// NewAnalyticsService 创建 AnalyticsService，cache 为 nil 时不缓存
func NewAnalyticsService(gdb *gorm.DB, habits *HabitService, c *cache.Cache) *AnalyticsService {
	return &AnalyticsService{db: gdb, habits: habits, cache: c}
}

// WithCacheTTL 调整仪表盘缓存时间
func (s *AnalyticsService) WithCacheTTL(d time.Duration) *AnalyticsService {
	if d <= 0 {
		return s
	}
	s.ttl = d
	return s
}

// Dashboard 返回用户的总体统计，结果只依赖 TTL 失效
func (s *AnalyticsService) Dashboard(ctx context.Context, userID uint) (Dashboard, error) {
	return cache.Remember(ctx, s.cache, dashboardScope, userID, "summary", s.ttl, func() (Dashboard, error) {
		return s.buildDashboard(ctx, userID)
	})
}

func (s *AnalyticsService) buildDashboard(ctx context.Context, userID uint) (Dashboard, error) {
	gdb := s.db.WithContext(ctx)

	var habits []db.Habit
	if err := gdb.Where("user_id = ?", userID).Find(&habits).Error; err != nil {
		return Dashboard{}, fmt.Errorf("list habits: %w", err)
	}

	out := Dashboard{TotalHabits: len(habits)}
	var consistency float64
	for _, h := range habits {
		switch h.Status {
		case stats.StatusActive:
			out.ActiveHabits++
		case stats.StatusAtRisk:
			out.AtRiskHabits++
		}
		out.TotalStreak += h.CurrentStreak
		consistency += h.ConsistencyScore
	}
	if len(habits) > 0 {
		out.AverageConsistency = math.Round(consistency/float64(len(habits))*100) / 100
	}

	today := s.habits.Today()
	if err := gdb.Model(&db.HabitLog{}).
		Joins("JOIN habits ON habits.id = habit_logs.habit_id").
		Where("habits.user_id = ? AND habits.deleted_at IS NULL", userID).
		Where("habit_logs.log_date = ? AND habit_logs.status = ?", today, stats.FactDone).
		Count(&out.TodayCompletions).Error; err != nil {
		return Dashboard{}, fmt.Errorf("count today completions: %w", err)
	}

	out.GeneratedAt = s.habits.now().UTC().Format(time.RFC3339)
	return out, nil
}

// Heatmap 返回某年每天的完成次数，year<=0 时使用今年
func (s *AnalyticsService) Heatmap(ctx context.Context, userID, habitID uint, year int) (Heatmap, error) {
	if year <= 0 {
		year = s.habits.Today().Year()
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)

	logs, err := s.habits.ListFacts(ctx, userID, habitID, start, end)
	if err != nil {
		return Heatmap{}, err
	}

	out := Heatmap{Year: year, Data: make(map[string]int)}
	for _, l := range logs {
		if l.Status == stats.FactDone {
			out.Data[l.LogDate.Format(time.DateOnly)]++
		}
	}
	return out, nil
}

// Weekly 统计本周（周一开始）的打卡状态
func (s *AnalyticsService) Weekly(ctx context.Context, userID, habitID uint) (PeriodStats, error) {
	today := s.habits.Today()
	start := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	return s.period(ctx, userID, habitID, start, start.AddDate(0, 0, 6))
}

// Monthly 统计某月的打卡状态，year/month 为 0 时使用当月
func (s *AnalyticsService) Monthly(ctx context.Context, userID, habitID uint, year, month int) (PeriodStats, error) {
	today := s.habits.Today()
	if year <= 0 {
		year = today.Year()
	}
	if month < 1 || month > 12 {
		month = int(today.Month())
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return s.period(ctx, userID, habitID, start, start.AddDate(0, 1, -1))
}

// Trend 返回最近 days 天每天的完成数，只包含有记录的日期
func (s *AnalyticsService) Trend(ctx context.Context, userID, habitID uint, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = stats.DefaultWindowDays
	}
	end := s.habits.Today()
	logs, err := s.habits.ListFacts(ctx, userID, habitID, end.AddDate(0, 0, -days), end)
	if err != nil {
		return nil, err
	}

	out := make([]TrendPoint, 0, len(logs))
	for _, l := range logs {
		point := TrendPoint{Date: l.LogDate.Format(time.DateOnly)}
		if l.Status == stats.FactDone {
			point.Completions = 1
		}
		out = append(out, point)
	}
	return out, nil
}

func (s *AnalyticsService) period(ctx context.Context, userID, habitID uint, start, end time.Time) (PeriodStats, error) {
	logs, err := s.habits.ListFacts(ctx, userID, habitID, start, end)
	if err != nil {
		return PeriodStats{}, err
	}

	out := PeriodStats{Start: start.Format(time.DateOnly), End: end.Format(time.DateOnly)}
	for _, l := range logs {
		switch l.Status {
		case stats.FactDone:
			out.Stats.Done++
		case stats.FactSkipped:
			out.Stats.Skipped++
		case stats.FactMissed:
			out.Stats.Missed++
		}
	}
	return out, nil
}
