package gamification

// AchievementKind 决定成就按哪项进度判定
type AchievementKind string

const (
	KindStreak      AchievementKind = "streak"
	KindCompletion  AchievementKind = "completion"
	KindConsistency AchievementKind = "consistency"
	KindGoal        AchievementKind = "goal"
)

// Achievement 是一条成就规则，Name 全局唯一。
type Achievement struct {
	Name        string
	Description string
	Icon        string
	Kind        AchievementKind
	Requirement int
	XPReward    int
}

// Progress 是检查成就时用户的当前进度。
// Streak 与 Consistency 取本次打卡的习惯，其余为用户全部习惯/目标的累计。
type Progress struct {
	Streak           int
	Consistency      float64
	TotalCompletions int
	CompletedGoals   int
}

// DefaultAchievements 是启动时写入数据库的成就目录
var DefaultAchievements = []Achievement{
	{Name: "First Steps", Description: "Complete your first habit", Icon: "🎯", Kind: KindCompletion, Requirement: 1, XPReward: 50},
	{Name: "Streak Starter", Description: "Maintain a 3-day streak", Icon: "🔥", Kind: KindStreak, Requirement: 3, XPReward: 50},
	{Name: "Week Warrior", Description: "Maintain a 7-day streak", Icon: "⭐", Kind: KindStreak, Requirement: 7, XPReward: 100},
	{Name: "Consistency King", Description: "Maintain a 30-day streak", Icon: "👑", Kind: KindStreak, Requirement: 30, XPReward: 500},
	{Name: "Habit Hero", Description: "Complete 100 habits", Icon: "💪", Kind: KindCompletion, Requirement: 100, XPReward: 200},
	{Name: "Goal Crusher", Description: "Complete 5 goals", Icon: "🏆", Kind: KindGoal, Requirement: 5, XPReward: 300},
	{Name: "Perfect Week", Description: "Achieve 100% consistency", Icon: "✨", Kind: KindConsistency, Requirement: 100, XPReward: 150},
}

// Reached 判断进度是否满足成就要求，未知类型永远不满足。
func (a Achievement) Reached(p Progress) bool {
	switch a.Kind {
	case KindStreak:
		return p.Streak >= a.Requirement
	case KindCompletion:
		return p.TotalCompletions >= a.Requirement
	case KindConsistency:
		return p.Consistency >= float64(a.Requirement)
	case KindGoal:
		return p.CompletedGoals >= a.Requirement
	default:
		return false
	}
}

// AddAchievementXP 把成就奖励并入本次奖励，previousLevel 为发放前的等级。
func (a Award) AddAchievementXP(xp, previousLevel int) Award {
	a.AchievementXP += xp
	a.TotalXP += xp
	a.Level = Level(a.TotalXP)
	a.LeveledUp = a.Level > previousLevel
	a.XPToNext = XPToNext(a.TotalXP)
	return a
}
