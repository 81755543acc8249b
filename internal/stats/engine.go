// Package stats 是纯计算的习惯统计引擎：输入事实历史，输出派生字段与应当宣布的事件。
//
// 引擎不读写数据库、不发布事件，也不读取系统时钟；同样的输入永远得到同样的输出，
// 持久化与发布由调用方负责。
package stats

import (
	"math"
	"slices"
	"time"

	"github.com/habitpulse/internal/events"
)

// DefaultWindowDays 是一致性得分的默认统计窗口
const DefaultWindowDays = 30

// riskLookback 是风险判定检查的日历天数
const riskLookback = 2

// Engine 持有重算所需的可配置参数。
type Engine struct {
	WindowDays int
}

// NewEngine 构造引擎，windowDays<=0 时使用默认 30 天。
func NewEngine(windowDays int) Engine {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return Engine{WindowDays: windowDays}
}

// Recompute 从完整事实历史计算派生字段，并给出状态迁移产生的事件。
// today 为调用方所在时区的“今天”，内部会归一到日历日。
func (e Engine) Recompute(h Snapshot, facts []Fact, today time.Time) (Fields, []events.Event) {
	today = Day(today)
	window := e.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}

	byDay := indexFacts(facts)

	var out Fields
	var emitted []events.Event

	for _, f := range byDay {
		switch f.Status {
		case FactDone:
			out.TotalCompletions++
			if out.LastCompletedDate == nil || f.Date.After(*out.LastCompletedDate) {
				d := f.Date
				out.LastCompletedDate = &d
			}
		case FactSkipped:
			out.TotalSkips++
		}
	}

	out.CurrentStreak = currentStreak(byDay, today)
	out.LongestStreak = max(h.LongestStreak, out.CurrentStreak)
	out.ConsistencyScore = consistencyScore(byDay, h.Cadence, today, window)
	out.FailureRate = failureRate(out.TotalSkips, len(byDay))

	out.OpenStreak = openStreak(byDay, today, out.CurrentStreak)

	// 只有今天也无法再延续时才算断签，凌晨的定时重算不会误报
	if h.OpenStreak > 0 && out.OpenStreak == 0 {
		emitted = append(emitted, events.New(events.TypeStreakBroken, h.UserID, map[string]any{
			"habit_id":        h.ID,
			"habit_name":      h.Name,
			"previous_streak": h.OpenStreak,
		}))
	}

	out.ConsecutiveMisses = recentMisses(byDay, today)
	out.Status = h.Status
	switch {
	case out.ConsecutiveMisses >= riskLookback && h.Status == StatusActive:
		out.Status = StatusAtRisk
		emitted = append(emitted, events.New(events.TypeHabitAtRisk, h.UserID, map[string]any{
			"habit_id":           h.ID,
			"habit_name":         h.Name,
			"consecutive_misses": out.ConsecutiveMisses,
		}))
	case out.ConsecutiveMisses < riskLookback && h.Status == StatusAtRisk:
		out.Status = StatusActive
	}

	return out, emitted
}

// indexFacts 按日期去重，同一天以后出现的记录为准，并按日期倒序返回。
func indexFacts(facts []Fact) []Fact {
	seen := make(map[time.Time]int, len(facts))
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		f.Date = Day(f.Date)
		if idx, ok := seen[f.Date]; ok {
			out[idx] = f
			continue
		}
		seen[f.Date] = len(out)
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Fact) int {
		return b.Date.Compare(a.Date)
	})
	return out
}

// currentStreak 从今天开始倒数连续的 done 天数；第一条 done 早于今天则为 0。
func currentStreak(desc []Fact, today time.Time) int {
	streak := 0
	expected := today
	for _, f := range desc {
		if f.Status != FactDone {
			continue
		}
		switch {
		case f.Date.Equal(expected):
			streak++
			expected = expected.AddDate(0, 0, -1)
		case f.Date.Before(expected):
			return streak
		}
		// 未来日期的记录不参与计数
	}
	return streak
}

// openStreak 是今天仍可延续的连胜：今天已完成时等于 current，
// 今天还没有记录时按截至昨天的连胜计，今天记了非 done 则为 0。
func openStreak(desc []Fact, today time.Time, current int) int {
	if current > 0 {
		return current
	}
	if slices.ContainsFunc(desc, func(f Fact) bool { return f.Date.Equal(today) }) {
		return 0
	}
	return currentStreak(desc, today.AddDate(0, 0, -1))
}

func consistencyScore(desc []Fact, cadence Cadence, today time.Time, window int) float64 {
	expected := window
	if cadence != CadenceDaily {
		expected = window / 7
	}
	if expected == 0 {
		return 0
	}

	start := today.AddDate(0, 0, -window)
	done := 0
	for _, f := range desc {
		if f.Status == FactDone && !f.Date.Before(start) && !f.Date.After(today) {
			done++
		}
	}

	score := float64(done) / float64(expected) * 100
	return math.Min(100, math.Max(0, score))
}

// failureRate 以 skipped 而非 missed 计算失败率。
func failureRate(skipped, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(skipped) / float64(total) * 100
}

// recentMisses 统计昨天与前天中没有 done 记录的天数，与频率无关。
func recentMisses(desc []Fact, today time.Time) int {
	misses := 0
	for offset := 1; offset <= riskLookback; offset++ {
		day := today.AddDate(0, 0, -offset)
		idx := slices.IndexFunc(desc, func(f Fact) bool { return f.Date.Equal(day) })
		if idx < 0 || desc[idx].Status != FactDone {
			misses++
		}
	}
	return misses
}
