package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/handler"
	"github.com/habitpulse/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionName = "habitpulse_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinMiddleware(), gin.Recovery())

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: 7 * 24 * 60 * 60})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", api.Register)
		authGroup.POST("/login", api.Login)
		authGroup.POST("/logout", api.Logout)
	}

	// 实时推送，浏览器无法设置请求头时使用 ?token=
	r.GET("/ws", api.AuthRequired(), api.ServeWebSocket)

	secured := r.Group("/api")
	secured.Use(api.AuthRequired())
	{
		secured.GET("/me", api.Me)
		secured.GET("/events", api.StreamEvents)

		secured.GET("/habits", api.ListHabits)
		secured.POST("/habits", api.CreateHabit)
		secured.GET("/habits/:id", api.GetHabit)
		secured.PUT("/habits/:id", api.UpdateHabit)
		secured.DELETE("/habits/:id", api.DeleteHabit)
		secured.GET("/habits/:id/logs", api.ListHabitLogs)
		secured.POST("/habits/:id/logs", api.LogHabit)
		secured.DELETE("/habits/:id/logs/:logId", api.DeleteHabitLog)
		secured.POST("/habits/:id/recompute", api.RecomputeHabit)
		secured.GET("/habits/:id/suggestions", api.GetHabitSuggestions)
		secured.GET("/habits/:id/heatmap", api.GetHabitHeatmap)
		secured.GET("/habits/:id/weekly", api.GetHabitWeekly)
		secured.GET("/habits/:id/monthly", api.GetHabitMonthly)
		secured.GET("/habits/:id/trend", api.GetHabitTrend)
		secured.POST("/suggestions/detect-risks", api.DetectRisks)

		secured.GET("/goals", api.ListGoals)
		secured.POST("/goals", api.CreateGoal)
		secured.GET("/goals/:id", api.GetGoal)
		secured.PUT("/goals/:id", api.UpdateGoal)
		secured.DELETE("/goals/:id", api.DeleteGoal)
		secured.PUT("/goals/:id/habits", api.LinkGoalHabits)

		secured.GET("/analytics/dashboard", api.GetDashboard)
	}

	return r
}
