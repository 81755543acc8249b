package db

import (
	"time"

	"gorm.io/gorm"
)

// Goal 由若干习惯按权重累计完成次数
// CurrentValue 每次都从打卡记录重新累加，IsCompleted 一旦为 true 不再回退
type Goal struct {
	gorm.Model
	UserID       uint   `gorm:"index;not null"`
	Name         string `gorm:"not null"`
	Description  string
	Unit         string
	TargetValue  float64
	CurrentValue float64
	IsCompleted  bool
	CompletedAt  *time.Time
	Habits       []GoalHabit `gorm:"constraint:OnDelete:CASCADE"`
}

// GoalHabit 关联目标与习惯，ContributionWeight 默认 1
type GoalHabit struct {
	ID                 uint    `gorm:"primarykey"`
	GoalID             uint    `gorm:"index;uniqueIndex:idx_goal_habit"`
	HabitID            uint    `gorm:"index;uniqueIndex:idx_goal_habit"`
	ContributionWeight float64 `gorm:"not null;default:1"`
}
