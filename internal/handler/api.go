package handler

import (
	"time"

	"github.com/habitpulse/internal/auth"
	"github.com/habitpulse/internal/cache"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/realtime"
	"github.com/habitpulse/internal/service"
	"github.com/habitpulse/internal/stats"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db           *gorm.DB
	habits       *service.HabitService
	goals        *service.GoalService
	analytics    *service.AnalyticsService
	gamification *service.GamificationService
	users        *service.UserService
	housekeeping *service.HousekeepingService
	issuer       *auth.Issuer
	registry     *realtime.Registry
	bus          events.Bus
	now          func() time.Time
}

// Deps 描述构造 API 所需的外部组件，零值字段使用默认配置
type Deps struct {
	DB           *gorm.DB
	Bus          events.Bus
	Cache        *cache.Cache
	CacheTTL     time.Duration
	Issuer       *auth.Issuer
	Registry     *realtime.Registry
	WindowDays   int
	Location     *time.Location
	Clock        func() time.Time
	InactiveDays int
}

// NewAPI constructs a handler set with shared services.
func NewAPI(deps Deps) *API {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	registry := deps.Registry
	if registry == nil {
		registry = realtime.NewRegistry(0)
	}

	habits := service.NewHabitService(deps.DB, deps.Bus).
		WithEngine(stats.NewEngine(deps.WindowDays)).
		WithLocation(deps.Location).
		WithClock(now)

	return &API{
		db:           deps.DB,
		habits:       habits,
		goals:        service.NewGoalService(deps.DB, deps.Bus).WithClock(now),
		analytics:    service.NewAnalyticsService(deps.DB, habits, deps.Cache).WithCacheTTL(deps.CacheTTL),
		gamification: service.NewGamificationService(deps.DB),
		users:        service.NewUserService(deps.DB),
		housekeeping: service.NewHousekeepingService(deps.DB, habits, deps.Bus).WithInactiveDays(deps.InactiveDays),
		issuer:       deps.Issuer,
		registry:     registry,
		bus:          deps.Bus,
		now:          now,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

// Habits 暴露习惯服务，供命令行重算使用
func (a *API) Habits() *service.HabitService {
	return a.habits
}

// Housekeeping 暴露定时任务服务，供调度器与命令行共用
func (a *API) Housekeeping() *service.HousekeepingService {
	return a.housekeeping
}

// Registry 返回本进程的连接表
func (a *API) Registry() *realtime.Registry {
	return a.registry
}
