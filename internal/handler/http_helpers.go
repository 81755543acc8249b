package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const dateFormat = "2006-01-02"

// userIDKey 是认证中间件写入 gin.Context 的用户 ID 键
const userIDKey = "user_id"

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func isJSONRequest(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Content-Type"), "application/json")
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

// parseIntQuery 读取整数查询参数，缺省时返回 fallback
func parseIntQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

// parseDate 解析 YYYY-MM-DD，空字符串返回 fallback
func parseDate(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return time.ParseInLocation(dateFormat, value, time.UTC)
}

// currentUserID 返回认证中间件解析出的用户 ID，未认证时为 0
func currentUserID(c *gin.Context) uint {
	return c.GetUint(userIDKey)
}
