package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"gorm.io/gorm"
)

var (
	// ErrGoalNotFound 在目标不存在或不属于当前用户时返回
	ErrGoalNotFound = errors.New("goal not found")
	// ErrInvalidGoal 当目标字段不合法时返回
	ErrInvalidGoal = errors.New("invalid goal")
)

// GoalService 负责目标的增删改查与习惯关联
type GoalService struct {
	db  *gorm.DB
	bus events.Bus
	now func() time.Time
}

// GoalInput 定义创建/更新目标时可配置字段
type GoalInput struct {
	Name        string
	Description string
	Unit        string
	TargetValue float64
	Habits      []HabitWeight
}

// HabitWeight 描述一个贡献习惯及其权重，权重<=0 时按 1 计算
type HabitWeight struct {
	HabitID uint
	Weight  float64
}

// NewGoalService 构造 GoalService
func NewGoalService(gdb *gorm.DB, bus events.Bus) *GoalService {
	return &GoalService{db: gdb, bus: bus, now: time.Now}
}

// WithClock 允许在测试中固定完成时间
func (s *GoalService) WithClock(now func() time.Time) *GoalService {
	if now != nil {
		s.now = now
	}
	return s
}

// List 返回用户的全部目标（含关联）
func (s *GoalService) List(ctx context.Context, userID uint) ([]db.Goal, error) {
	var goals []db.Goal
	if err := s.db.WithContext(ctx).
		Preload("Habits").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&goals).Error; err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// Get 根据 ID 获取用户的目标
func (s *GoalService) Get(ctx context.Context, userID, id uint) (*db.Goal, error) {
	return loadGoal(s.db.WithContext(ctx), userID, id)
}

func loadGoal(tx *gorm.DB, userID, id uint) (*db.Goal, error) {
	var goal db.Goal
	if err := tx.Preload("Habits").Where("id = ? AND user_id = ?", id, userID).First(&goal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGoalNotFound
		}
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return &goal, nil
}

// Create 新建目标并关联习惯，随即计算一次进度
func (s *GoalService) Create(ctx context.Context, userID uint, input GoalInput) (*db.Goal, error) {
	if err := validateGoalInput(input); err != nil {
		return nil, err
	}

	var (
		goal *db.Goal
		evts []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created := db.Goal{
			UserID:      userID,
			Name:        strings.TrimSpace(input.Name),
			Description: strings.TrimSpace(input.Description),
			Unit:        strings.TrimSpace(input.Unit),
			TargetValue: input.TargetValue,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("create goal: %w", err)
		}

		var err error
		goal, evts, err = s.relink(tx, userID, &created, input.Habits)
		return err
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, evts)
	return goal, nil
}

// Update 更新目标字段；Habits 非 nil 时替换关联
func (s *GoalService) Update(ctx context.Context, userID, id uint, input GoalInput) (*db.Goal, error) {
	if err := validateGoalInput(input); err != nil {
		return nil, err
	}

	var (
		goal *db.Goal
		evts []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadGoal(tx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Model(existing).Updates(map[string]any{
			"name":         strings.TrimSpace(input.Name),
			"description":  strings.TrimSpace(input.Description),
			"unit":         strings.TrimSpace(input.Unit),
			"target_value": input.TargetValue,
		}).Error; err != nil {
			return fmt.Errorf("update goal: %w", err)
		}

		if input.Habits == nil {
			evts, err = recomputeGoal(tx, existing, s.now())
			if err != nil {
				return err
			}
			goal, err = loadGoal(tx, userID, id)
			return err
		}

		goal, evts, err = s.relink(tx, userID, existing, input.Habits)
		return err
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, evts)
	return goal, nil
}

// LinkHabits 替换目标关联的习惯与权重并重算进度，可能触发 goal_completed
func (s *GoalService) LinkHabits(ctx context.Context, userID, goalID uint, habits []HabitWeight) (*db.Goal, error) {
	var (
		goal *db.Goal
		evts []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadGoal(tx, userID, goalID)
		if err != nil {
			return err
		}
		goal, evts, err = s.relink(tx, userID, existing, habits)
		return err
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, evts)
	return goal, nil
}

// Delete 删除目标及其关联
func (s *GoalService) Delete(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		goal, err := loadGoal(tx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Where("goal_id = ?", goal.ID).Delete(&db.GoalHabit{}).Error; err != nil {
			return fmt.Errorf("delete goal links: %w", err)
		}
		if err := tx.Delete(&db.Goal{}, goal.ID).Error; err != nil {
			return fmt.Errorf("delete goal: %w", err)
		}
		return nil
	})
}

// relink 只接受属于同一用户的习惯，重复的习惯以最后一次权重为准
func (s *GoalService) relink(tx *gorm.DB, userID uint, goal *db.Goal, habits []HabitWeight) (*db.Goal, []events.Event, error) {
	weights := make(map[uint]float64, len(habits))
	order := make([]uint, 0, len(habits))
	for _, hw := range habits {
		if _, seen := weights[hw.HabitID]; !seen {
			order = append(order, hw.HabitID)
		}
		weight := hw.Weight
		if weight <= 0 {
			weight = 1
		}
		weights[hw.HabitID] = weight
	}

	if len(order) > 0 {
		var owned int64
		if err := tx.Model(&db.Habit{}).Where("user_id = ? AND id IN ?", userID, order).Count(&owned).Error; err != nil {
			return nil, nil, fmt.Errorf("check habits: %w", err)
		}
		if int(owned) != len(order) {
			return nil, nil, ErrHabitNotFound
		}
	}

	if err := tx.Where("goal_id = ?", goal.ID).Delete(&db.GoalHabit{}).Error; err != nil {
		return nil, nil, fmt.Errorf("clear goal links: %w", err)
	}
	for _, habitID := range order {
		link := db.GoalHabit{GoalID: goal.ID, HabitID: habitID, ContributionWeight: weights[habitID]}
		if err := tx.Create(&link).Error; err != nil {
			return nil, nil, fmt.Errorf("link habit: %w", err)
		}
	}

	evts, err := recomputeGoal(tx, goal, s.now())
	if err != nil {
		return nil, nil, err
	}

	reloaded, err := loadGoal(tx, userID, goal.ID)
	if err != nil {
		return nil, nil, err
	}
	return reloaded, evts, nil
}

func validateGoalInput(input GoalInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGoal)
	}
	if input.TargetValue <= 0 {
		return fmt.Errorf("%w: target value must be positive", ErrInvalidGoal)
	}
	return nil
}
