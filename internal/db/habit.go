package db

import (
	"time"

	"github.com/habitpulse/internal/stats"
	"gorm.io/gorm"
)

// Habit 定义了习惯模型
// CurrentStreak 之后的字段均由统计引擎从打卡记录推导，属于缓存，不应直接写入
// SuggestedCadence 仅为建议，为空表示没有建议
type Habit struct {
	gorm.Model
	UserID      uint   `gorm:"index;not null"`
	Name        string `gorm:"not null"`
	Description string
	Cadence     stats.Cadence    `gorm:"size:16;not null;default:daily"`
	Difficulty  stats.Difficulty `gorm:"size:16;not null;default:medium"`
	Priority    stats.Priority   `gorm:"size:16;not null;default:medium"`
	Status      stats.Status     `gorm:"size:16;index;not null;default:active"`

	CurrentStreak     int
	LongestStreak     int
	OpenStreak        int
	TotalCompletions  int
	TotalSkips        int
	ConsistencyScore  float64
	ConsecutiveMisses int
	FailureRate       float64
	LastCompletedDate *time.Time
	SuggestedCadence  *string `gorm:"size:16"`
}

// Snapshot 返回统计引擎需要的重算前状态
func (h Habit) Snapshot() stats.Snapshot {
	return stats.Snapshot{
		ID:            h.ID,
		UserID:        h.UserID,
		Name:          h.Name,
		Cadence:       h.Cadence,
		Difficulty:    h.Difficulty,
		Status:        h.Status,
		CurrentStreak: h.CurrentStreak,
		LongestStreak: h.LongestStreak,
		OpenStreak:    h.OpenStreak,
	}
}

// ApplyFields 用重算结果覆盖派生字段
func (h *Habit) ApplyFields(f stats.Fields) {
	h.CurrentStreak = f.CurrentStreak
	h.LongestStreak = f.LongestStreak
	h.OpenStreak = f.OpenStreak
	h.TotalCompletions = f.TotalCompletions
	h.TotalSkips = f.TotalSkips
	h.ConsistencyScore = f.ConsistencyScore
	h.ConsecutiveMisses = f.ConsecutiveMisses
	h.FailureRate = f.FailureRate
	h.LastCompletedDate = f.LastCompletedDate
	h.Status = f.Status
}

// HabitLog 记录习惯打卡日志
// Habit + LogDate 采用唯一索引，保证同一天只有一条事实；LogDate 统一存储为 UTC 零点
// 删除为硬删除，避免软删除行占用唯一索引
type HabitLog struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	HabitID   uint             `gorm:"index;index:idx_habit_log_unique,unique"`
	LogDate   time.Time        `gorm:"index:idx_habit_log_unique,unique"`
	Status    stats.FactStatus `gorm:"size:16;not null"`
	Note      string
}

// TableName 重写确保唯一索引作用到 habit_id + log_date
func (HabitLog) TableName() string {
	return "habit_logs"
}

// Fact 转换为统计引擎的事实
func (l HabitLog) Fact() stats.Fact {
	return stats.Fact{Date: l.LogDate, Status: l.Status}
}
