package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/gamification"
	"github.com/habitpulse/internal/service"
	"github.com/habitpulse/internal/stats"
)

const defaultLogRangeDays = 30

type habitPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cadence     string `json:"cadence"`
	Difficulty  string `json:"difficulty"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

type habitLogPayload struct {
	LogDate string `json:"log_date"` // 2006-01-02，缺省为今天
	Status  string `json:"status"`   // 缺省为 done
	Note    string `json:"note"`
}

// ListHabits 返回当前用户的习惯列表
func (a *API) ListHabits(c *gin.Context) {
	filter := service.HabitFilter{
		Status: stats.Status(c.Query("status")),
		Search: c.Query("q"),
	}

	habits, err := a.habits.List(c.Request.Context(), currentUserID(c), filter)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"habits": items, "total": len(items)})
}

// GetHabit 返回单个习惯
func (a *API) GetHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Get(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	input, ok := a.parseHabitInput(c)
	if !ok {
		return
	}

	habit, err := a.habits.Create(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusCreated, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 更新习惯
func (a *API) UpdateHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	input, ok := a.parseHabitInput(c)
	if !ok {
		return
	}

	habit, err := a.habits.Update(c.Request.Context(), currentUserID(c), id, input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// DeleteHabit 删除习惯
func (a *API) DeleteHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if err := a.habits.Delete(c.Request.Context(), currentUserID(c), id); err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"deleted": true})
}

// LogHabit 记录某天的打卡事实，同一天重复记录会覆盖
func (a *API) LogHabit(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	var payload habitLogPayload
	if isJSONRequest(c) {
		if !bindJSON(c, &payload, "请求参数不合法") {
			return
		}
	} else {
		payload.LogDate = c.PostForm("log_date")
		payload.Status = c.PostForm("status")
		payload.Note = c.PostForm("note")
	}

	logDate, err := parseDate(payload.LogDate, a.habits.Today())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡日期")
		return
	}
	status := stats.FactStatus(payload.Status)
	if status == "" {
		status = stats.FactDone
	}

	result, err := a.habits.LogFact(c.Request.Context(), currentUserID(c), habitID, logDate, status, payload.Note)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	body := gin.H{
		"log":   serializeHabitLog(result.Log),
		"habit": habitToPayload(result.Habit),
	}
	if result.Award != nil {
		body["gamification"] = awardToPayload(*result.Award)
	}
	if len(result.Achievements) > 0 {
		body["achievements_unlocked"] = serializeAchievements(result.Achievements)
	}
	respondHabitSuccess(c, http.StatusOK, body)
}

// ListHabitLogs 返回日期区间内的打卡记录，默认最近 30 天
func (a *API) ListHabitLogs(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	today := a.habits.Today()
	end, err := parseDate(c.Query("end"), today)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return
	}
	start, err := parseDate(c.Query("start"), end.AddDate(0, 0, -defaultLogRangeDays))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的开始日期")
		return
	}

	logs, err := a.habits.ListFacts(c.Request.Context(), currentUserID(c), habitID, start, end)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{
		"logs":  serializeHabitLogs(logs),
		"range": gin.H{"start": start.Format(dateFormat), "end": end.Format(dateFormat)},
	})
}

// DeleteHabitLog 删除单条打卡，并按剩余记录重算
func (a *API) DeleteHabitLog(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	logID, err := parseUintParam(c, "logId")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	habit, err := a.habits.DeleteFact(c.Request.Context(), currentUserID(c), habitID, logID)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"deleted": true, "habit": habitToPayload(*habit)})
}

// RecomputeHabit 手动触发一次重算
func (a *API) RecomputeHabit(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Recompute(c.Request.Context(), currentUserID(c), habitID)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// GetHabitSuggestions 返回调整建议
func (a *API) GetHabitSuggestions(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	suggestions, err := a.habits.Suggestions(c.Request.Context(), currentUserID(c), habitID)
	if err != nil {
		handleHabitError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []stats.Suggestion{}
	}

	respondHabitSuccess(c, http.StatusOK, gin.H{"habit_id": habitID, "suggestions": suggestions})
}

// DetectRisks 立即为当前用户执行风险检测
func (a *API) DetectRisks(c *gin.Context) {
	habits, err := a.housekeeping.DetectRisksForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleHabitError(c, err)
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, h := range habits {
		items = append(items, gin.H{"id": h.ID, "name": h.Name})
	}
	respondHabitSuccess(c, http.StatusOK, gin.H{
		"at_risk_count": len(items),
		"habits":        items,
	})
}

func (a *API) parseHabitInput(c *gin.Context) (service.HabitInput, bool) {
	var payload habitPayload

	if isJSONRequest(c) {
		if !bindJSON(c, &payload, "请求参数不合法") {
			return service.HabitInput{}, false
		}
	} else {
		payload.Name = c.PostForm("name")
		payload.Description = c.PostForm("description")
		payload.Cadence = c.PostForm("cadence")
		payload.Difficulty = c.PostForm("difficulty")
		payload.Priority = c.PostForm("priority")
		payload.Status = c.PostForm("status")
	}

	return service.HabitInput{
		Name:        payload.Name,
		Description: payload.Description,
		Cadence:     stats.Cadence(payload.Cadence),
		Difficulty:  stats.Difficulty(payload.Difficulty),
		Priority:    stats.Priority(payload.Priority),
		Status:      stats.Status(payload.Status),
	}, true
}

func habitToPayload(habit db.Habit) gin.H {
	item := gin.H{
		"id":                 habit.ID,
		"name":               habit.Name,
		"description":        habit.Description,
		"description_html":   renderMarkdown(habit.Description),
		"cadence":            habit.Cadence,
		"difficulty":         habit.Difficulty,
		"priority":           habit.Priority,
		"status":             habit.Status,
		"current_streak":     habit.CurrentStreak,
		"longest_streak":     habit.LongestStreak,
		"open_streak":        habit.OpenStreak,
		"total_completions":  habit.TotalCompletions,
		"total_skips":        habit.TotalSkips,
		"consistency_score":  habit.ConsistencyScore,
		"consecutive_misses": habit.ConsecutiveMisses,
		"failure_rate":       habit.FailureRate,
		"created_at":         habit.CreatedAt.Format(time.RFC3339),
	}

	if habit.LastCompletedDate != nil {
		item["last_completed_date"] = habit.LastCompletedDate.Format(dateFormat)
	}
	if habit.SuggestedCadence != nil {
		item["suggested_cadence"] = *habit.SuggestedCadence
	}

	return item
}

func serializeHabitLogs(logs []db.HabitLog) []gin.H {
	items := make([]gin.H, 0, len(logs))
	for _, log := range logs {
		items = append(items, serializeHabitLog(log))
	}
	return items
}

func serializeHabitLog(log db.HabitLog) gin.H {
	return gin.H{
		"id":         log.ID,
		"habit_id":   log.HabitID,
		"log_date":   log.LogDate.Format(dateFormat),
		"status":     log.Status,
		"note":       log.Note,
		"updated_at": log.UpdatedAt.Format(time.RFC3339),
	}
}

func awardToPayload(award gamification.Award) gin.H {
	return gin.H{
		"xp_earned":      award.XPEarned,
		"base_xp":        award.BaseXP,
		"streak_bonus":   award.StreakBonus,
		"achievement_xp": award.AchievementXP,
		"total_xp":       award.TotalXP,
		"level":          award.Level,
		"leveled_up":     award.LeveledUp,
		"xp_to_next":     award.XPToNext,
	}
}

func serializeAchievements(items []db.Achievement) []gin.H {
	out := make([]gin.H, 0, len(items))
	for _, a := range items {
		out = append(out, gin.H{
			"id":          a.ID,
			"name":        a.Name,
			"description": a.Description,
			"icon":        a.Icon,
			"xp_reward":   a.XPReward,
		})
	}
	return out
}

func respondHabitSuccess(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrHabitLogNotFound):
		respondError(c, http.StatusNotFound, "打卡记录不存在")
	case errors.Is(err, service.ErrInvalidHabit):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidStatus):
		respondError(c, http.StatusBadRequest, "打卡状态无效")
	case errors.Is(err, service.ErrInvalidRange):
		respondError(c, http.StatusBadRequest, "日期区间无效")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
