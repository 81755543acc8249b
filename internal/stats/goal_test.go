package stats

import (
	"testing"

	"github.com/habitpulse/internal/events"
)

func TestGoalProgressWeightedSum(t *testing.T) {
	goal := GoalSnapshot{ID: 3, UserID: 7, Name: "百次运动", TargetValue: 7}
	contributions := []Contribution{
		{HabitID: 1, Weight: 1.0, DoneCount: 3},
		{HabitID: 2, Weight: 2.0, DoneCount: 2},
	}

	res, evts := GoalProgress(goal, contributions)
	if res.CurrentValue != 7.0 {
		t.Fatalf("expected current value 7, got %v", res.CurrentValue)
	}
	if !res.Completed || !res.JustCompleted {
		t.Fatalf("expected goal to complete, got %+v", res)
	}
	if len(evts) != 1 || evts[0].Type != events.TypeGoalCompleted {
		t.Fatalf("expected one goal_completed event, got %+v", evts)
	}

	// 重复重算不会再次触发
	goal.Completed = true
	res, evts = GoalProgress(goal, contributions)
	if res.JustCompleted || len(evts) != 0 {
		t.Fatalf("expected no repeated completion, got %+v %+v", res, evts)
	}
	if res.CurrentValue != 7.0 {
		t.Fatalf("value must still be recomputed, got %v", res.CurrentValue)
	}
}

func TestGoalProgressBelowTarget(t *testing.T) {
	goal := GoalSnapshot{ID: 1, UserID: 1, TargetValue: 10}
	res, evts := GoalProgress(goal, []Contribution{{HabitID: 1, Weight: 1.5, DoneCount: 4}})
	if res.CurrentValue != 6 || res.Completed || len(evts) != 0 {
		t.Fatalf("unexpected result: %+v %+v", res, evts)
	}

	res, _ = GoalProgress(goal, nil)
	if res.CurrentValue != 0 {
		t.Fatalf("expected 0 without contributions, got %v", res.CurrentValue)
	}
}

func TestSuggest(t *testing.T) {
	got := Suggest(SuggestInput{
		Cadence:          CadenceDaily,
		Difficulty:       DifficultyHard,
		FailureRate:      60,
		ConsistencyScore: 20,
		CurrentStreak:    0,
		LongestStreak:    5,
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %+v", got)
	}
	if SuggestedCadence(got) != CadenceWeekly {
		t.Fatalf("expected weekly cadence suggestion, got %q", SuggestedCadence(got))
	}
	if got[2].Kind != SuggestRestart || got[2].Previous != 5 {
		t.Fatalf("unexpected restart suggestion: %+v", got[2])
	}

	// 周频率不会再被建议降低频率
	got = Suggest(SuggestInput{Cadence: CadenceWeekly, FailureRate: 90, ConsistencyScore: 80, CurrentStreak: 2, LongestStreak: 2})
	if len(got) != 0 {
		t.Fatalf("expected no suggestions, got %+v", got)
	}
}
