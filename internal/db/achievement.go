package db

import (
	"time"

	"github.com/habitpulse/internal/gamification"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Achievement 是成就目录中的一条，按 Name 去重
type Achievement struct {
	ID          uint                         `gorm:"primarykey"`
	Name        string                       `gorm:"unique;not null"`
	Kind        gamification.AchievementKind `gorm:"size:16;not null"`
	Requirement int                          `gorm:"not null"`
	XPReward    int                          `gorm:"not null;default:50"`
	Description string
	Icon        string
	CreatedAt   time.Time
}

// Rule 转换为成就规则
func (a Achievement) Rule() gamification.Achievement {
	return gamification.Achievement{
		Name:        a.Name,
		Description: a.Description,
		Icon:        a.Icon,
		Kind:        a.Kind,
		Requirement: a.Requirement,
		XPReward:    a.XPReward,
	}
}

// UserAchievement 记录用户解锁的成就，同一成就只能解锁一次
type UserAchievement struct {
	ID            uint      `gorm:"primarykey"`
	UserID        uint      `gorm:"index:idx_user_achievement,unique;not null"`
	AchievementID uint      `gorm:"index:idx_user_achievement,unique;not null"`
	UnlockedAt    time.Time `gorm:"not null"`
	Achievement   Achievement
}

// EnsureAchievements 写入目录中缺失的成就，已存在的同名成就保持不变。
func EnsureAchievements(gdb *gorm.DB, catalog []gamification.Achievement) error {
	if len(catalog) == 0 {
		return nil
	}

	rows := make([]Achievement, 0, len(catalog))
	for _, a := range catalog {
		rows = append(rows, Achievement{
			Name:        a.Name,
			Description: a.Description,
			Icon:        a.Icon,
			Kind:        a.Kind,
			Requirement: a.Requirement,
			XPReward:    a.XPReward,
		})
	}
	return gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&rows).Error
}
