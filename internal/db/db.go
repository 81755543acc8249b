package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/habitpulse/internal/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold 之上的 SQL 记为慢查询
const slowQueryThreshold = 200 * time.Millisecond

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Init 打开数据库并赋值给全局 DB。
// databasePath 为空时将回退到默认值 habitpulse.db。
func Init(databasePath string) error {
	gdb, err := Open(databasePath)
	if err != nil {
		return err
	}
	DB = gdb
	return nil
}

// Open 打开 sqlite 数据库并执行自动迁移。
// sqlite 只允许一个写连接，这里把连接池限制为 1，事务内必须只使用 tx。
func Open(databasePath string) (*gorm.DB, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = "habitpulse.db"
	}

	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	gormLog, err := newGormLogger()
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate 为核心模型创建表
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&User{},
		&Habit{},
		&HabitLog{},
		&Goal{},
		&GoalHabit{},
		&Achievement{},
		&UserAchievement{},
	)
}

// newGormLogger 把 gorm 的告警与慢查询写入 zap；查不到记录属于正常分支，不记录
func newGormLogger() (gormlogger.Interface, error) {
	std, err := zap.NewStdLogAt(logger.L().Named("gorm"), zapcore.WarnLevel)
	if err != nil {
		return nil, fmt.Errorf("gorm logger: %w", err)
	}
	return gormlogger.New(std, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	}), nil
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
