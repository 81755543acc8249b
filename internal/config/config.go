package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabasePath      string
	SessionSecret     string
	JWTSecret         string
	TokenTTL          time.Duration
	GinMode           string
	LogLevel          string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CacheDir          string
	CacheTTL          time.Duration
	ConsistencyWindow int
	Timezone          *time.Location
	RiskCron          string
	NudgeCron         string
	StreakCron        string
	NudgeInactiveDays int
	SuperRootUserName string
	SuperRootPassword string
}

// fileConfig 是 CONFIG_FILE 指向的 YAML 文件结构，字段名与环境变量一致。
type fileConfig map[string]string

// Load 从 .env、可选的 YAML 文件与环境变量读取应用配置，并为缺失项提供安全的默认值。
// 优先级：环境变量 > YAML 文件 > 默认值。
func Load() (AppConfig, error) {
	_ = godotenv.Load(".env")

	fromFile, err := readFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return AppConfig{}, err
	}

	get := func(key, fallback string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		if v := strings.TrimSpace(fromFile[key]); v != "" {
			return v
		}
		return fallback
	}

	port := get("PORT", "8080")

	cfg := AppConfig{
		ListenAddr:        get("LISTEN_ADDR", fmt.Sprintf(":%s", port)),
		Port:              port,
		DatabasePath:      get("DATABASE_PATH", "habitpulse.db"),
		SessionSecret:     get("SESSION_SECRET", "habitpulse-dev-secret"),
		JWTSecret:         get("JWT_SECRET", "habitpulse-dev-jwt-secret-change-me"),
		GinMode:           get("GIN_MODE", "release"),
		LogLevel:          get("LOG_LEVEL", "info"),
		RedisAddr:         get("REDIS_ADDR", ""),
		RedisPassword:     get("REDIS_PASSWORD", ""),
		CacheDir:          get("CACHE_DIR", ""),
		RiskCron:          get("RISK_CRON", "0 * * * *"),
		NudgeCron:         get("NUDGE_CRON", "0 9 * * *"),
		StreakCron:        get("STREAK_CRON", "5 0 * * *"),
		SuperRootUserName: get("SUPER_ROOT_USER_NAME", ""),
		SuperRootPassword: get("SUPER_ROOT_PASSWORD", ""),
	}

	if cfg.TokenTTL, err = parseDuration("TOKEN_TTL", get("TOKEN_TTL", "24h")); err != nil {
		return AppConfig{}, err
	}
	if cfg.CacheTTL, err = parseDuration("CACHE_TTL", get("CACHE_TTL", "1h")); err != nil {
		return AppConfig{}, err
	}
	if cfg.RedisDB, err = parseInt("REDIS_DB", get("REDIS_DB", "0")); err != nil {
		return AppConfig{}, err
	}
	if cfg.ConsistencyWindow, err = parseInt("CONSISTENCY_WINDOW_DAYS", get("CONSISTENCY_WINDOW_DAYS", "30")); err != nil {
		return AppConfig{}, err
	}
	if cfg.ConsistencyWindow <= 0 {
		return AppConfig{}, fmt.Errorf("CONSISTENCY_WINDOW_DAYS must be positive, got %d", cfg.ConsistencyWindow)
	}
	if cfg.NudgeInactiveDays, err = parseInt("NUDGE_INACTIVE_DAYS", get("NUDGE_INACTIVE_DAYS", "2")); err != nil {
		return AppConfig{}, err
	}

	tz := get("TIMEZONE", "UTC")
	if cfg.Timezone, err = time.LoadLocation(tz); err != nil {
		return AppConfig{}, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := fileConfig{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseInt(key, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
