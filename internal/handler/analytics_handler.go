package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetDashboard 返回当前用户的总体统计（带缓存）
func (a *API) GetDashboard(c *gin.Context) {
	dashboard, err := a.analytics.Dashboard(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取统计失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": dashboard})
}

// GetHabitHeatmap 返回习惯某年的完成热力图
func (a *API) GetHabitHeatmap(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}
	year, err := parseIntQuery(c, "year", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的年份")
		return
	}

	heatmap, err := a.analytics.Heatmap(c.Request.Context(), currentUserID(c), habitID, year)
	if err != nil {
		handleHabitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "heatmap": heatmap})
}

// GetHabitWeekly 返回本周各状态的打卡次数
func (a *API) GetHabitWeekly(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	period, err := a.analytics.Weekly(c.Request.Context(), currentUserID(c), habitID)
	if err != nil {
		handleHabitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "weekly": period})
}

// GetHabitMonthly 返回某月各状态的打卡次数
func (a *API) GetHabitMonthly(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}
	year, err := parseIntQuery(c, "year", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的年份")
		return
	}
	month, err := parseIntQuery(c, "month", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的月份")
		return
	}

	period, err := a.analytics.Monthly(c.Request.Context(), currentUserID(c), habitID, year, month)
	if err != nil {
		handleHabitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "monthly": period})
}

// GetHabitTrend 返回最近若干天的完成趋势
func (a *API) GetHabitTrend(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}
	days, err := parseIntQuery(c, "days", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的天数")
		return
	}

	trend, err := a.analytics.Trend(c.Request.Context(), currentUserID(c), habitID, days)
	if err != nil {
		handleHabitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "trend": trend})
}
