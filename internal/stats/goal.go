package stats

import (
	"github.com/habitpulse/internal/events"
)

// Contribution 是某个习惯对目标的贡献：已完成次数 × 权重。
type Contribution struct {
	HabitID   uint
	Weight    float64
	DoneCount int
}

// GoalSnapshot 是目标重算前的状态。
type GoalSnapshot struct {
	ID          uint
	UserID      uint
	Name        string
	TargetValue float64
	Completed   bool
}

// GoalResult 是目标重算结果。
type GoalResult struct {
	CurrentValue  float64
	Completed     bool
	JustCompleted bool
}

// GoalProgress 按权重重新累加全部贡献习惯的完成次数。
// 完成状态一旦达成不会回退，因此重复重算不会再次触发 goal_completed。
func GoalProgress(g GoalSnapshot, contributions []Contribution) (GoalResult, []events.Event) {
	var value float64
	for _, c := range contributions {
		value += float64(c.DoneCount) * c.Weight
	}

	res := GoalResult{CurrentValue: value, Completed: g.Completed}
	if g.Completed || g.TargetValue <= 0 || value < g.TargetValue {
		return res, nil
	}

	res.Completed = true
	res.JustCompleted = true
	return res, []events.Event{events.New(events.TypeGoalCompleted, g.UserID, map[string]any{
		"goal_id":       g.ID,
		"goal_name":     g.Name,
		"current_value": value,
		"target_value":  g.TargetValue,
	})}
}
