package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/service"
	"github.com/habitpulse/internal/stats"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// seedHabit 描述一个演示习惯及其打卡规律
type seedHabit struct {
	name       string
	cadence    stats.Cadence
	difficulty stats.Difficulty
	// every 表示每隔几天打一次卡，skipEvery>0 时每隔 skipEvery 天记一次 skipped
	every     int
	skipEvery int
}

var demoHabits = []seedHabit{
	{name: "晨跑", cadence: stats.CadenceDaily, difficulty: stats.DifficultyMedium, every: 1, skipEvery: 6},
	{name: "阅读 30 分钟", cadence: stats.CadenceDaily, difficulty: stats.DifficultyEasy, every: 1},
	{name: "周末大扫除", cadence: stats.CadenceWeekly, difficulty: stats.DifficultyHard, every: 7},
}

func newSeedCommand() *cobra.Command {
	var username, password string
	var days int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo user with habits, logs and a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return seedDemo(cmd.Context(), a, username, password, days, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&username, "username", "demo", "demo user name")
	cmd.Flags().StringVar(&password, "password", "demo123", "demo user password")
	cmd.Flags().IntVar(&days, "days", 45, "days of history to generate")
	return cmd
}

func seedDemo(ctx context.Context, a *app, username, password string, days int, out io.Writer) error {
	var existing db.User
	err := db.DB.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		fmt.Fprintf(out, "user %s already exists, skipping\n", username)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find user: %w", err)
	}

	user, err := service.NewUserService(db.DB).Register(ctx, username, password)
	if err != nil {
		return err
	}

	habits := a.api.Habits()
	today := habits.Today()
	weights := make([]service.HabitWeight, 0, len(demoHabits))
	logs := 0

	for _, demo := range demoHabits {
		habit, err := habits.Create(ctx, user.ID, service.HabitInput{
			Name:       demo.name,
			Cadence:    demo.cadence,
			Difficulty: demo.difficulty,
		})
		if err != nil {
			return err
		}
		weights = append(weights, service.HabitWeight{HabitID: habit.ID, Weight: 1})

		// 从最早的一天开始写，保证连胜与经验按时间顺序累计
		for offset := days; offset >= 0; offset-- {
			if offset%demo.every != 0 {
				continue
			}
			status := stats.FactDone
			if demo.skipEvery > 0 && offset%demo.skipEvery == demo.skipEvery-1 {
				status = stats.FactSkipped
			}
			if _, err := habits.LogFact(ctx, user.ID, habit.ID, today.AddDate(0, 0, -offset), status, ""); err != nil {
				return err
			}
			logs++
		}
	}

	goal, err := service.NewGoalService(db.DB, a.bus).Create(ctx, user.ID, service.GoalInput{
		Name:        "完成 100 次打卡",
		Unit:        "次",
		TargetValue: 100,
		Habits:      weights,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "seeded user %s with %d habits, %d logs, goal %.0f/%.0f\n",
		user.Username, len(demoHabits), logs, goal.CurrentValue, goal.TargetValue)
	return nil
}
