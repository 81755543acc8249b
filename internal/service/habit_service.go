package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/gamification"
	"github.com/habitpulse/internal/metrics"
	"github.com/habitpulse/internal/stats"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHabitNotFound 在指定习惯不存在或不属于当前用户时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrHabitLogNotFound 在打卡记录不存在时返回
	ErrHabitLogNotFound = errors.New("habit log not found")
	// ErrInvalidHabit 当习惯字段不合法时返回
	ErrInvalidHabit = errors.New("invalid habit")
	// ErrInvalidStatus 当打卡状态不是 done/skipped/missed 时返回
	ErrInvalidStatus = errors.New("invalid log status")
	// ErrInvalidRange 当查询区间结束早于开始时返回
	ErrInvalidRange = errors.New("invalid date range")
)

// 打卡备注只保留纯文本
var notePolicy = bluemonday.StrictPolicy()

// HabitService 负责习惯的增删改查、打卡以及派生统计的重算
// 每个习惯的 读取→重算→持久化 在同一把锁与同一个事务内完成，事件在提交后发布
type HabitService struct {
	db     *gorm.DB
	bus    events.Bus
	engine stats.Engine
	loc    *time.Location
	now    func() time.Time
	locks  *keyedMutex
}

// HabitFilter 描述列表过滤条件
type HabitFilter struct {
	Status stats.Status
	Search string
}

// HabitInput 定义创建/更新习惯时可配置字段
type HabitInput struct {
	Name        string
	Description string
	Cadence     stats.Cadence
	Difficulty  stats.Difficulty
	Priority    stats.Priority
	Status      stats.Status
}

// LogResult 是一次打卡写入的结果
type LogResult struct {
	Log          db.HabitLog
	Habit        db.Habit
	Award        *gamification.Award
	Achievements []db.Achievement
	Events       []events.Event
}

// NewHabitService 构造 HabitService，bus 为 nil 时不发布事件
func NewHabitService(gdb *gorm.DB, bus events.Bus) *HabitService {
	return &HabitService{
		db:     gdb,
		bus:    bus,
		engine: stats.NewEngine(stats.DefaultWindowDays),
		loc:    time.UTC,
		now:    time.Now,
		locks:  newKeyedMutex(),
	}
}

// WithEngine 替换统计引擎参数
func (s *HabitService) WithEngine(engine stats.Engine) *HabitService {
	s.engine = engine
	return s
}

// WithLocation 设置计算“今天”使用的时区
func (s *HabitService) WithLocation(loc *time.Location) *HabitService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithClock 允许在测试中固定当前时间
func (s *HabitService) WithClock(now func() time.Time) *HabitService {
	if now != nil {
		s.now = now
	}
	return s
}

// Today 返回配置时区下的今天（UTC 零点表示）
func (s *HabitService) Today() time.Time {
	return stats.Day(s.now().In(s.loc))
}

// List 返回用户的习惯集合，支持基本筛选
func (s *HabitService) List(ctx context.Context, userID uint, filter HabitFilter) ([]db.Habit, error) {
	var habits []db.Habit

	query := s.db.WithContext(ctx).Model(&db.Habit{}).Where("user_id = ?", userID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := fmt.Sprintf("%%%s%%", search)
		query = query.Where("name LIKE ? OR description LIKE ?", like, like)
	}

	if err := query.Order("created_at DESC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return habits, nil
}

// Get 根据 ID 获取用户的习惯
func (s *HabitService) Get(ctx context.Context, userID, id uint) (*db.Habit, error) {
	return loadHabit(s.db.WithContext(ctx), userID, id)
}

func loadHabit(tx *gorm.DB, userID, id uint) (*db.Habit, error) {
	var habit db.Habit
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&habit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("get habit: %w", err)
	}
	return &habit, nil
}

// Create 新建习惯
func (s *HabitService) Create(ctx context.Context, userID uint, input HabitInput) (*db.Habit, error) {
	input, err := normalizeHabitInput(input)
	if err != nil {
		return nil, err
	}

	habit := db.Habit{
		UserID:      userID,
		Name:        input.Name,
		Description: input.Description,
		Cadence:     input.Cadence,
		Difficulty:  input.Difficulty,
		Priority:    input.Priority,
		Status:      input.Status,
	}
	if err := s.db.WithContext(ctx).Create(&habit).Error; err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	return &habit, nil
}

// Update 更新习惯的可编辑字段，随后按新配置重算派生统计
func (s *HabitService) Update(ctx context.Context, userID, id uint, input HabitInput) (*db.Habit, error) {
	input, err := normalizeHabitInput(input)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		habit *db.Habit
		evts  []events.Event
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadHabit(tx, userID, id)
		if err != nil {
			return err
		}

		existing.Name = input.Name
		existing.Description = input.Description
		existing.Cadence = input.Cadence
		existing.Difficulty = input.Difficulty
		existing.Priority = input.Priority
		// at_risk 只由统计引擎设置，手动改回 active 时仍会按最近两天重新判定
		if existing.Status != stats.StatusAtRisk || input.Status != stats.StatusActive {
			existing.Status = input.Status
		}

		evts, err = s.recompute(tx, existing, "update")
		habit = existing
		return err
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, evts)
	return habit, nil
}

// Delete 删除习惯及其打卡记录，并重算受影响的目标
func (s *HabitService) Delete(ctx context.Context, userID, id uint) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		habit, err := loadHabit(tx, userID, id)
		if err != nil {
			return err
		}

		var goalIDs []uint
		if err := tx.Model(&db.GoalHabit{}).Where("habit_id = ?", habit.ID).Pluck("goal_id", &goalIDs).Error; err != nil {
			return fmt.Errorf("list linked goals: %w", err)
		}
		if err := tx.Where("habit_id = ?", habit.ID).Delete(&db.GoalHabit{}).Error; err != nil {
			return fmt.Errorf("delete goal links: %w", err)
		}
		if err := tx.Where("habit_id = ?", habit.ID).Delete(&db.HabitLog{}).Error; err != nil {
			return fmt.Errorf("delete habit logs: %w", err)
		}
		if err := tx.Delete(habit).Error; err != nil {
			return fmt.Errorf("delete habit: %w", err)
		}

		// 进度只会下降，不会产生完成事件
		_, err = recomputeGoals(tx, goalIDs, s.now())
		return err
	})
}

// LogFact 写入（或覆盖）某天的打卡事实，重算派生统计、关联目标与经验值，提交后发布事件
func (s *HabitService) LogFact(ctx context.Context, userID, habitID uint, date time.Time, status stats.FactStatus, note string) (*LogResult, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	logDate := stats.Day(date)
	note = strings.TrimSpace(notePolicy.Sanitize(note))

	unlock := s.locks.Lock(habitID)
	defer unlock()

	var result LogResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		habit, err := loadHabit(tx, userID, habitID)
		if err != nil {
			return err
		}

		var previous db.HabitLog
		found := tx.Where("habit_id = ? AND log_date = ?", habitID, logDate).Limit(1).Find(&previous)
		if found.Error != nil {
			return fmt.Errorf("find habit log: %w", found.Error)
		}
		hadDone := found.RowsAffected == 1 && previous.Status == stats.FactDone

		record := db.HabitLog{HabitID: habitID, LogDate: logDate, Status: status, Note: note}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "habit_id"}, {Name: "log_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "note", "updated_at"}),
		}).Create(&record).Error; err != nil {
			return fmt.Errorf("upsert habit log: %w", err)
		}
		if err := tx.Where("habit_id = ? AND log_date = ?", habitID, logDate).First(&record).Error; err != nil {
			return fmt.Errorf("reload habit log: %w", err)
		}

		derived, err := s.recompute(tx, habit, "log")
		if err != nil {
			return err
		}

		payload := map[string]any{
			"habit_id":   habit.ID,
			"habit_name": habit.Name,
			"log_date":   logDate.Format(time.DateOnly),
			"status":     string(status),
			"streak":     habit.CurrentStreak,
		}
		// 只在当天从非 done 变为 done 时发放经验，重复提交不会重复累计
		if status == stats.FactDone && !hadDone {
			award, unlocked, err := awardXP(tx, userID, habit, s.now())
			if err != nil {
				return err
			}
			if award != nil {
				result.Award = award
				payload["xp_earned"] = award.XPEarned
				payload["level"] = award.Level
				payload["leveled_up"] = award.LeveledUp
				payload["total_xp"] = award.TotalXP
			}
			if len(unlocked) > 0 {
				result.Achievements = unlocked
				payload["achievements_unlocked"] = achievementPayloads(unlocked)
			}
		}

		result.Log = record
		result.Habit = *habit
		result.Events = append([]events.Event{events.New(events.TypeHabitLogged, userID, payload)}, derived...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, result.Events)
	return &result, nil
}

// DeleteFact 删除一条打卡记录并按同样规则重算
func (s *HabitService) DeleteFact(ctx context.Context, userID, habitID, logID uint) (*db.Habit, error) {
	unlock := s.locks.Lock(habitID)
	defer unlock()

	var (
		habit *db.Habit
		evts  []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		habit, err = loadHabit(tx, userID, habitID)
		if err != nil {
			return err
		}

		res := tx.Where("id = ? AND habit_id = ?", logID, habitID).Delete(&db.HabitLog{})
		if res.Error != nil {
			return fmt.Errorf("delete habit log: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrHabitLogNotFound
		}

		evts, err = s.recompute(tx, habit, "delete")
		return err
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, evts)
	return habit, nil
}

// ListFacts 返回指定区间内的打卡记录，按日期升序
func (s *HabitService) ListFacts(ctx context.Context, userID, habitID uint, start, end time.Time) ([]db.HabitLog, error) {
	start, end = stats.Day(start), stats.Day(end)
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	gdb := s.db.WithContext(ctx)
	if _, err := loadHabit(gdb, userID, habitID); err != nil {
		return nil, err
	}

	var logs []db.HabitLog
	if err := gdb.Where("habit_id = ?", habitID).
		Where("log_date BETWEEN ? AND ?", start, end).
		Order("log_date ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list habit logs: %w", err)
	}
	return logs, nil
}

// RecomputeAll 不区分用户地重算一个习惯，供定时任务与命令行使用
func (s *HabitService) RecomputeAll(ctx context.Context, habitID uint) (*db.Habit, error) {
	return s.recomputeByID(ctx, habitID, "job")
}

// Recompute 由用户触发的重算
func (s *HabitService) Recompute(ctx context.Context, userID, habitID uint) (*db.Habit, error) {
	if _, err := s.Get(ctx, userID, habitID); err != nil {
		return nil, err
	}
	return s.recomputeByID(ctx, habitID, "manual")
}

func (s *HabitService) recomputeByID(ctx context.Context, habitID uint, trigger string) (*db.Habit, error) {
	unlock := s.locks.Lock(habitID)
	defer unlock()

	var (
		habit db.Habit
		evts  []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&habit, habitID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrHabitNotFound
			}
			return fmt.Errorf("get habit: %w", err)
		}
		var err error
		evts, err = s.recompute(tx, &habit, trigger)
		return err
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.bus, evts)
	return &habit, nil
}

// Suggestions 返回当前派生统计对应的调整建议
func (s *HabitService) Suggestions(ctx context.Context, userID, habitID uint) ([]stats.Suggestion, error) {
	habit, err := s.Get(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}
	return stats.Suggest(suggestInput(*habit)), nil
}

// recompute 读取完整事实历史，调用统计引擎并持久化派生字段与关联目标，必须在事务内调用
func (s *HabitService) recompute(tx *gorm.DB, habit *db.Habit, trigger string) ([]events.Event, error) {
	var logs []db.HabitLog
	if err := tx.Where("habit_id = ?", habit.ID).Order("log_date ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("load habit logs: %w", err)
	}

	facts := make([]stats.Fact, 0, len(logs))
	for _, l := range logs {
		facts = append(facts, l.Fact())
	}

	fields, evts := s.engine.Recompute(habit.Snapshot(), facts, s.Today())
	habit.ApplyFields(fields)

	habit.SuggestedCadence = nil
	if suggested := stats.SuggestedCadence(stats.Suggest(suggestInput(*habit))); suggested != "" {
		value := string(suggested)
		habit.SuggestedCadence = &value
	}

	if err := tx.Save(habit).Error; err != nil {
		return nil, fmt.Errorf("save habit stats: %w", err)
	}
	metrics.Recomputes.WithLabelValues(trigger).Inc()

	goalEvents, err := recomputeGoalsForHabit(tx, habit.ID, s.now())
	if err != nil {
		return nil, err
	}
	return append(evts, goalEvents...), nil
}

func achievementPayloads(items []db.Achievement) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, a := range items {
		out = append(out, map[string]any{
			"id":          a.ID,
			"name":        a.Name,
			"description": a.Description,
			"icon":        a.Icon,
			"xp_reward":   a.XPReward,
		})
	}
	return out
}

func suggestInput(h db.Habit) stats.SuggestInput {
	return stats.SuggestInput{
		Cadence:          h.Cadence,
		Difficulty:       h.Difficulty,
		FailureRate:      h.FailureRate,
		ConsistencyScore: h.ConsistencyScore,
		CurrentStreak:    h.CurrentStreak,
		LongestStreak:    h.LongestStreak,
	}
}

func normalizeHabitInput(input HabitInput) (HabitInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if input.Name == "" {
		return input, fmt.Errorf("%w: name is required", ErrInvalidHabit)
	}

	if input.Cadence == "" {
		input.Cadence = stats.CadenceDaily
	}
	if input.Difficulty == "" {
		input.Difficulty = stats.DifficultyMedium
	}
	if input.Priority == "" {
		input.Priority = stats.PriorityMedium
	}
	if input.Status == "" {
		input.Status = stats.StatusActive
	}

	switch {
	case !input.Cadence.Valid():
		return input, fmt.Errorf("%w: unsupported cadence %s", ErrInvalidHabit, input.Cadence)
	case !input.Difficulty.Valid():
		return input, fmt.Errorf("%w: unsupported difficulty %s", ErrInvalidHabit, input.Difficulty)
	case !input.Priority.Valid():
		return input, fmt.Errorf("%w: unsupported priority %s", ErrInvalidHabit, input.Priority)
	case !input.Status.Valid() || input.Status == stats.StatusAtRisk:
		return input, fmt.Errorf("%w: unsupported status %s", ErrInvalidHabit, input.Status)
	}
	return input, nil
}
