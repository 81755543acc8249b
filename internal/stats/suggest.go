package stats

import "fmt"

// Suggestion 是一条建议，不会被持久化为义务。
type Suggestion struct {
	Kind      string `json:"kind"`
	Current   string `json:"current,omitempty"`
	Suggested string `json:"suggested,omitempty"`
	Reason    string `json:"reason"`
	Previous  int    `json:"previous_streak,omitempty"`
}

const (
	SuggestReduceFrequency  = "reduce_frequency"
	SuggestReduceDifficulty = "reduce_difficulty"
	SuggestRestart          = "restart"
)

// SuggestInput 汇总生成建议所需的当前字段
type SuggestInput struct {
	Cadence          Cadence
	Difficulty       Difficulty
	FailureRate      float64
	ConsistencyScore float64
	CurrentStreak    int
	LongestStreak    int
}

// Suggest 根据失败率、一致性与连胜情况给出调整建议。
func Suggest(in SuggestInput) []Suggestion {
	var out []Suggestion

	if in.FailureRate > 50 && in.Cadence == CadenceDaily {
		out = append(out, Suggestion{
			Kind:      SuggestReduceFrequency,
			Current:   string(in.Cadence),
			Suggested: string(CadenceWeekly),
			Reason:    fmt.Sprintf("High failure rate (%.1f%%). Consider reducing frequency.", in.FailureRate),
		})
	}

	if in.ConsistencyScore < 30 {
		out = append(out, Suggestion{
			Kind:      SuggestReduceDifficulty,
			Current:   string(in.Difficulty),
			Suggested: string(DifficultyEasy),
			Reason:    fmt.Sprintf("Low consistency score (%.1f%%). Consider making the habit easier.", in.ConsistencyScore),
		})
	}

	if in.CurrentStreak == 0 && in.LongestStreak > 0 {
		out = append(out, Suggestion{
			Kind:     SuggestRestart,
			Reason:   "Your streak was broken. Start fresh with smaller, achievable goals.",
			Previous: in.LongestStreak,
		})
	}

	return out
}

// SuggestedCadence 返回建议的频率，没有频率建议时为空。
func SuggestedCadence(suggestions []Suggestion) Cadence {
	for _, s := range suggestions {
		if s.Kind == SuggestReduceFrequency {
			return Cadence(s.Suggested)
		}
	}
	return ""
}
