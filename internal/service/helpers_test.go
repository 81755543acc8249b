package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/stats"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func createUser(t *testing.T, gdb *gorm.DB, name string) db.User {
	t.Helper()
	user := db.User{Username: name, Password: "x", Level: 1}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func createHabit(t *testing.T, svc *HabitService, userID uint, name string, difficulty stats.Difficulty) *db.Habit {
	t.Helper()
	habit, err := svc.Create(context.Background(), userID, HabitInput{Name: name, Difficulty: difficulty})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}
	return habit
}

func subscribeAll(t *testing.T, bus events.Bus) events.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), events.UserTopicPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

// drain 取出信箱中已有的事件，MemoryBus 在 Publish 返回前已完成入队
func drain(sub events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func ofType(evts []events.Event, t events.Type) []events.Event {
	var out []events.Event
	for _, e := range evts {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func daysBefore(n int) time.Time {
	return stats.Day(fixedNow).AddDate(0, 0, -n)
}
