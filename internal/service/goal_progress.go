package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/stats"
	"gorm.io/gorm"
)

// recomputeGoalsForHabit 重算所有关联该习惯的目标，必须在调用方事务内执行。
func recomputeGoalsForHabit(tx *gorm.DB, habitID uint, now time.Time) ([]events.Event, error) {
	var goalIDs []uint
	if err := tx.Model(&db.GoalHabit{}).
		Where("habit_id = ?", habitID).
		Distinct().
		Pluck("goal_id", &goalIDs).Error; err != nil {
		return nil, fmt.Errorf("list linked goals: %w", err)
	}
	return recomputeGoals(tx, goalIDs, now)
}

func recomputeGoals(tx *gorm.DB, goalIDs []uint, now time.Time) ([]events.Event, error) {
	var out []events.Event
	for _, id := range goalIDs {
		var goal db.Goal
		if err := tx.First(&goal, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("load goal: %w", err)
		}
		evts, err := recomputeGoal(tx, &goal, now)
		if err != nil {
			return nil, err
		}
		out = append(out, evts...)
	}
	return out, nil
}

// recomputeGoal 从打卡记录重新累加目标进度并持久化。
func recomputeGoal(tx *gorm.DB, goal *db.Goal, now time.Time) ([]events.Event, error) {
	var links []db.GoalHabit
	if err := tx.Where("goal_id = ?", goal.ID).Order("id ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("load goal habits: %w", err)
	}

	contributions := make([]stats.Contribution, 0, len(links))
	for _, link := range links {
		var done int64
		if err := tx.Model(&db.HabitLog{}).
			Where("habit_id = ? AND status = ?", link.HabitID, stats.FactDone).
			Count(&done).Error; err != nil {
			return nil, fmt.Errorf("count done logs: %w", err)
		}
		contributions = append(contributions, stats.Contribution{
			HabitID:   link.HabitID,
			Weight:    link.ContributionWeight,
			DoneCount: int(done),
		})
	}

	res, evts := stats.GoalProgress(stats.GoalSnapshot{
		ID:          goal.ID,
		UserID:      goal.UserID,
		Name:        goal.Name,
		TargetValue: goal.TargetValue,
		Completed:   goal.IsCompleted,
	}, contributions)

	goal.CurrentValue = res.CurrentValue
	if res.JustCompleted {
		completedAt := now.UTC()
		goal.IsCompleted = true
		goal.CompletedAt = &completedAt
	}

	if err := tx.Model(goal).Updates(map[string]any{
		"current_value": goal.CurrentValue,
		"is_completed":  goal.IsCompleted,
		"completed_at":  goal.CompletedAt,
	}).Error; err != nil {
		return nil, fmt.Errorf("save goal progress: %w", err)
	}
	return evts, nil
}
