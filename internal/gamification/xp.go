// Package gamification 计算完成习惯获得的经验值与等级。
package gamification

import "github.com/habitpulse/internal/stats"

// 按难度的基础经验值
var baseXP = map[stats.Difficulty]int{
	stats.DifficultyEasy:   10,
	stats.DifficultyMedium: 20,
	stats.DifficultyHard:   30,
}

type streakBonus struct {
	threshold int
	bonus     int
}

// 按阈值升序排列，取第一个整除当前连胜的阈值
var streakBonuses = []streakBonus{
	{7, 50},
	{14, 100},
	{30, 200},
	{60, 500},
	{100, 1000},
}

// Award 是一次完成记录带来的经验变化。
type Award struct {
	XPEarned      int  `json:"xp_earned"`
	BaseXP        int  `json:"base_xp"`
	StreakBonus   int  `json:"streak_bonus"`
	AchievementXP int  `json:"achievement_xp"`
	TotalXP       int  `json:"total_xp"`
	Level         int  `json:"level"`
	LeveledUp     bool `json:"leveled_up"`
	XPToNext      int  `json:"xp_to_next"`
}

// BaseXP 返回难度对应的基础经验，未知难度按 easy 计。
func BaseXP(d stats.Difficulty) int {
	if xp, ok := baseXP[d]; ok {
		return xp
	}
	return baseXP[stats.DifficultyEasy]
}

// StreakBonus 返回当前连胜对应的额外奖励。
func StreakBonus(streak int) int {
	for _, b := range streakBonuses {
		if streak >= b.threshold && streak%b.threshold == 0 {
			return b.bonus
		}
	}
	return 0
}

// XPForLevel 是从 level-1 升到 level 需要的经验。
func XPForLevel(level int) int {
	return level * 100
}

// LevelThreshold 是达到 level 所需的累计经验。
func LevelThreshold(level int) int {
	total := 0
	for k := 2; k <= level; k++ {
		total += XPForLevel(k)
	}
	return total
}

// Level 根据累计经验计算等级，最低为 1。
func Level(totalXP int) int {
	level := 1
	for LevelThreshold(level+1) <= totalXP {
		level++
	}
	return level
}

// XPToNext 返回升到下一级还差的经验。
func XPToNext(totalXP int) int {
	return max(0, LevelThreshold(Level(totalXP)+1)-totalXP)
}

// Apply 计算一次完成带来的奖励，并返回新的累计经验与等级。
func Apply(totalXP, level int, difficulty stats.Difficulty, streak int) Award {
	base := BaseXP(difficulty)
	bonus := StreakBonus(streak)
	newTotal := totalXP + base + bonus
	newLevel := Level(newTotal)
	return Award{
		XPEarned:    base + bonus,
		BaseXP:      base,
		StreakBonus: bonus,
		TotalXP:     newTotal,
		Level:       newLevel,
		LeveledUp:   newLevel > level,
		XPToNext:    XPToNext(newTotal),
	}
}
