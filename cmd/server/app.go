package main

import (
	"errors"
	"fmt"

	"github.com/habitpulse/internal/auth"
	"github.com/habitpulse/internal/cache"
	"github.com/habitpulse/internal/config"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/gamification"
	"github.com/habitpulse/internal/handler"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/realtime"
	"github.com/habitpulse/internal/scheduler"
	"github.com/habitpulse/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app 持有一个进程内共享的组件
type app struct {
	cfg   config.AppConfig
	bus   events.Bus
	cache *cache.Cache
	redis *redis.Client
	api   *handler.API
}

// newApp 初始化数据库、事件总线与缓存；配置了 REDIS_ADDR 时总线与缓存都走 Redis，
// 否则使用进程内总线和 pebble 本地缓存
func newApp(cfg config.AppConfig) (*app, error) {
	if err := logger.Init(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := db.Init(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.EnsureUser(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		return nil, fmt.Errorf("ensure root user: %w", err)
	}
	if err := db.EnsureAchievements(db.DB, gamification.DefaultAchievements); err != nil {
		return nil, fmt.Errorf("ensure achievements: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	var store cache.Store
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.bus = events.NewRedisBus(a.redis, events.DefaultMailboxSize)
		store = cache.NewRedisStore(a.redis)
		logger.L().Info("event_bus_selected", zap.String("kind", "redis"), zap.String("addr", cfg.RedisAddr))
	} else {
		a.bus = events.NewMemoryBus(events.DefaultMailboxSize)
		pebbleStore, err := cache.OpenPebble(cfg.CacheDir)
		if err != nil {
			a.bus.Close()
			return nil, err
		}
		store = pebbleStore
		logger.L().Info("event_bus_selected", zap.String("kind", "memory"), zap.String("cache_dir", cfg.CacheDir))
	}
	a.cache = cache.New(store, cfg.CacheTTL)

	a.api = handler.NewAPI(handler.Deps{
		DB:           db.DB,
		Bus:          a.bus,
		Cache:        a.cache,
		CacheTTL:     cfg.CacheTTL,
		Issuer:       issuer,
		Registry:     realtime.NewRegistry(realtime.DefaultSendTimeout),
		WindowDays:   cfg.ConsistencyWindow,
		Location:     cfg.Timezone,
		InactiveDays: cfg.NudgeInactiveDays,
	})
	return a, nil
}

// newScheduler 按配置的 cron 表达式组装维护任务
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s, err := scheduler.New(a.api.Housekeeping(),
		scheduler.Entry{Job: service.JobDetectRisks, Cron: a.cfg.RiskCron},
		scheduler.Entry{Job: service.JobNudges, Cron: a.cfg.NudgeCron},
		scheduler.Entry{Job: service.JobUpdateStreaks, Cron: a.cfg.StreakCron},
	)
	if err != nil {
		return nil, err
	}
	return s.WithLocation(a.cfg.Timezone), nil
}

func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if db.DB != nil {
		if sqlDB, err := db.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	logger.Sync()
	return errors.Join(errs...)
}
