package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/gamification"
	"gorm.io/gorm"
)

// ErrUserNotFound 在用户不存在时返回
var ErrUserNotFound = errors.New("user not found")

// Profile 汇总用户的经验、等级与打卡总量
type Profile struct {
	UserID            uint                  `json:"user_id"`
	Username          string                `json:"username"`
	TotalXP           int                   `json:"total_xp"`
	Level             int                   `json:"level"`
	XPToNextLevel     int                   `json:"xp_to_next_level"`
	TotalHabits       int64                 `json:"total_habits"`
	TotalCompletions  int64                 `json:"total_completions"`
	CompletedGoals    int64                 `json:"completed_goals"`
	TotalAchievements int                   `json:"total_achievements"`
	Achievements      []UnlockedAchievement `json:"achievements"`
}

// UnlockedAchievement 是用户已解锁的一条成就
type UnlockedAchievement struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	XPReward    int       `json:"xp_reward"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// GamificationService 提供经验与等级的只读视图
type GamificationService struct {
	db *gorm.DB
}

// NewGamificationService 构造 GamificationService
func NewGamificationService(gdb *gorm.DB) *GamificationService {
	return &GamificationService{db: gdb}
}

// Profile 返回用户的游戏化统计
func (s *GamificationService) Profile(ctx context.Context, userID uint) (*Profile, error) {
	gdb := s.db.WithContext(ctx)

	var user db.User
	if err := gdb.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	profile := &Profile{
		UserID:        user.ID,
		Username:      user.Username,
		TotalXP:       user.TotalXP,
		Level:         max(user.Level, 1),
		XPToNextLevel: gamification.XPToNext(user.TotalXP),
	}

	if err := gdb.Model(&db.Habit{}).Where("user_id = ?", userID).Count(&profile.TotalHabits).Error; err != nil {
		return nil, fmt.Errorf("count habits: %w", err)
	}
	if err := gdb.Model(&db.Habit{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(total_completions), 0)").
		Scan(&profile.TotalCompletions).Error; err != nil {
		return nil, fmt.Errorf("sum completions: %w", err)
	}
	if err := gdb.Model(&db.Goal{}).Where("user_id = ? AND is_completed = ?", userID, true).Count(&profile.CompletedGoals).Error; err != nil {
		return nil, fmt.Errorf("count goals: %w", err)
	}

	var unlocked []db.UserAchievement
	if err := gdb.Preload("Achievement").
		Where("user_id = ?", userID).
		Order("unlocked_at ASC, id ASC").
		Find(&unlocked).Error; err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	profile.Achievements = make([]UnlockedAchievement, 0, len(unlocked))
	for _, ua := range unlocked {
		profile.Achievements = append(profile.Achievements, UnlockedAchievement{
			ID:          ua.Achievement.ID,
			Name:        ua.Achievement.Name,
			Description: ua.Achievement.Description,
			Icon:        ua.Achievement.Icon,
			XPReward:    ua.Achievement.XPReward,
			UnlockedAt:  ua.UnlockedAt,
		})
	}
	profile.TotalAchievements = len(profile.Achievements)
	return profile, nil
}

// awardXP 在打卡事务内累计经验、检查成就并更新等级，用户不存在时不发放
func awardXP(tx *gorm.DB, userID uint, habit *db.Habit, now time.Time) (*gamification.Award, []db.Achievement, error) {
	var user db.User
	if err := tx.Limit(1).Find(&user, userID).Error; err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if user.ID == 0 {
		return nil, nil, nil
	}

	level := max(user.Level, 1)
	award := gamification.Apply(user.TotalXP, level, habit.Difficulty, habit.CurrentStreak)

	unlocked, reward, err := unlockAchievements(tx, userID, habit, now)
	if err != nil {
		return nil, nil, err
	}
	if reward > 0 {
		award = award.AddAchievementXP(reward, level)
	}

	if err := tx.Model(&user).Updates(map[string]any{
		"total_xp": award.TotalXP,
		"level":    award.Level,
	}).Error; err != nil {
		return nil, nil, fmt.Errorf("award xp: %w", err)
	}
	return &award, unlocked, nil
}

// unlockAchievements 解锁进度已满足且尚未获得的成就，返回它们与奖励经验之和
func unlockAchievements(tx *gorm.DB, userID uint, habit *db.Habit, now time.Time) ([]db.Achievement, int, error) {
	var catalog []db.Achievement
	if err := tx.Order("id ASC").Find(&catalog).Error; err != nil {
		return nil, 0, fmt.Errorf("load achievements: %w", err)
	}
	if len(catalog) == 0 {
		return nil, 0, nil
	}

	var owned []uint
	if err := tx.Model(&db.UserAchievement{}).Where("user_id = ?", userID).Pluck("achievement_id", &owned).Error; err != nil {
		return nil, 0, fmt.Errorf("load unlocked achievements: %w", err)
	}

	progress, err := achievementProgress(tx, userID, habit)
	if err != nil {
		return nil, 0, err
	}

	var (
		unlocked []db.Achievement
		reward   int
	)
	for _, a := range catalog {
		if slices.Contains(owned, a.ID) || !a.Rule().Reached(progress) {
			continue
		}
		if err := tx.Create(&db.UserAchievement{UserID: userID, AchievementID: a.ID, UnlockedAt: now}).Error; err != nil {
			return nil, 0, fmt.Errorf("unlock achievement: %w", err)
		}
		unlocked = append(unlocked, a)
		reward += a.XPReward
	}
	return unlocked, reward, nil
}

func achievementProgress(tx *gorm.DB, userID uint, habit *db.Habit) (gamification.Progress, error) {
	progress := gamification.Progress{
		Streak:      habit.CurrentStreak,
		Consistency: habit.ConsistencyScore,
	}

	var completions, goals int64
	if err := tx.Model(&db.Habit{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(total_completions), 0)").
		Scan(&completions).Error; err != nil {
		return progress, fmt.Errorf("sum completions: %w", err)
	}
	if err := tx.Model(&db.Goal{}).Where("user_id = ? AND is_completed = ?", userID, true).Count(&goals).Error; err != nil {
		return progress, fmt.Errorf("count goals: %w", err)
	}
	progress.TotalCompletions = int(completions)
	progress.CompletedGoals = int(goals)
	return progress, nil
}
