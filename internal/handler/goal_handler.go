package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/service"
)

type goalHabitPayload struct {
	HabitID uint    `json:"habit_id"`
	Weight  float64 `json:"weight"`
}

type goalPayload struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Unit        string             `json:"unit"`
	TargetValue float64            `json:"target_value"`
	Habits      []goalHabitPayload `json:"habits"`
}

// ListGoals 返回当前用户的目标
func (a *API) ListGoals(c *gin.Context) {
	goals, err := a.goals.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleGoalError(c, err)
		return
	}

	items := make([]gin.H, 0, len(goals))
	for _, goal := range goals {
		items = append(items, goalToPayload(goal))
	}
	c.JSON(http.StatusOK, gin.H{"goals": items, "total": len(items)})
}

// GetGoal 返回单个目标
func (a *API) GetGoal(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的目标ID")
		return
	}

	goal, err := a.goals.Get(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		handleGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goalToPayload(*goal)})
}

// CreateGoal 创建目标
func (a *API) CreateGoal(c *gin.Context) {
	var payload goalPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	goal, err := a.goals.Create(c.Request.Context(), currentUserID(c), payload.input())
	if err != nil {
		handleGoalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"goal": goalToPayload(*goal)})
}

// UpdateGoal 更新目标，未提供 habits 时保留原有关联
func (a *API) UpdateGoal(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的目标ID")
		return
	}

	var payload goalPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	goal, err := a.goals.Update(c.Request.Context(), currentUserID(c), id, payload.input())
	if err != nil {
		handleGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goalToPayload(*goal)})
}

// LinkGoalHabits 替换目标关联的习惯及权重
func (a *API) LinkGoalHabits(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的目标ID")
		return
	}

	var payload struct {
		Habits []goalHabitPayload `json:"habits"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	goal, err := a.goals.LinkHabits(c.Request.Context(), currentUserID(c), id, toHabitWeights(payload.Habits))
	if err != nil {
		handleGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goalToPayload(*goal)})
}

// DeleteGoal 删除目标
func (a *API) DeleteGoal(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的目标ID")
		return
	}

	if err := a.goals.Delete(c.Request.Context(), currentUserID(c), id); err != nil {
		handleGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (p goalPayload) input() service.GoalInput {
	input := service.GoalInput{
		Name:        p.Name,
		Description: p.Description,
		Unit:        p.Unit,
		TargetValue: p.TargetValue,
	}
	if p.Habits != nil {
		input.Habits = toHabitWeights(p.Habits)
	}
	return input
}

func toHabitWeights(items []goalHabitPayload) []service.HabitWeight {
	out := make([]service.HabitWeight, 0, len(items))
	for _, item := range items {
		out = append(out, service.HabitWeight{HabitID: item.HabitID, Weight: item.Weight})
	}
	return out
}

func goalToPayload(goal db.Goal) gin.H {
	habits := make([]gin.H, 0, len(goal.Habits))
	for _, link := range goal.Habits {
		habits = append(habits, gin.H{"habit_id": link.HabitID, "weight": link.ContributionWeight})
	}

	progress := 0.0
	if goal.TargetValue > 0 {
		progress = min(100, goal.CurrentValue/goal.TargetValue*100)
	}

	item := gin.H{
		"id":            goal.ID,
		"name":          goal.Name,
		"description":   goal.Description,
		"unit":          goal.Unit,
		"target_value":  goal.TargetValue,
		"current_value": goal.CurrentValue,
		"progress":      progress,
		"is_completed":  goal.IsCompleted,
		"habits":        habits,
	}
	if goal.CompletedAt != nil {
		item["completed_at"] = goal.CompletedAt.Format(time.RFC3339)
	}
	return item
}

func handleGoalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrGoalNotFound):
		respondError(c, http.StatusNotFound, "目标不存在")
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "关联的习惯不存在")
	case errors.Is(err, service.ErrInvalidGoal):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
