package stats

import "time"

// Cadence 描述习惯的计划频率
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
	CadenceCustom Cadence = "custom"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceCustom:
		return true
	}
	return false
}

// Difficulty 影响 XP 奖励与建议
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Priority 仅用于排序与展示
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status 是习惯的生命周期状态；at_risk 只由引擎写入
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
	StatusAtRisk   Status = "at_risk"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusArchived, StatusAtRisk:
		return true
	}
	return false
}

// FactStatus 是单日打卡的结果
type FactStatus string

const (
	FactDone    FactStatus = "done"
	FactSkipped FactStatus = "skipped"
	FactMissed  FactStatus = "missed"
)

func (s FactStatus) Valid() bool {
	switch s {
	case FactDone, FactSkipped, FactMissed:
		return true
	}
	return false
}

// Fact 是一条打卡事实，Date 已归一到当天零点。
type Fact struct {
	Date   time.Time
	Status FactStatus
}

// Snapshot 是重算前习惯的已持久化状态，引擎只读取这些字段。
type Snapshot struct {
	ID            uint
	UserID        uint
	Name          string
	Cadence       Cadence
	Difficulty    Difficulty
	Status        Status
	CurrentStreak int
	LongestStreak int
	OpenStreak    int
}

// Fields 是一次重算得出的全部派生字段。
type Fields struct {
	CurrentStreak     int
	LongestStreak     int
	OpenStreak        int
	TotalCompletions  int
	TotalSkips        int
	ConsistencyScore  float64
	ConsecutiveMisses int
	FailureRate       float64
	LastCompletedDate *time.Time
	Status            Status
}

// Day 把任意时间归一为所在日历日的 UTC 零点，作为事实的存储键。
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
