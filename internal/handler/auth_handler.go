package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/service"
)

const (
	sessionUserKey     = "user_id"
	sessionUsernameKey = "username"
)

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 注册新用户并直接登录
func (a *API) Register(c *gin.Context) {
	creds, ok := parseCredentials(c)
	if !ok {
		return
	}

	user, err := a.users.Register(c.Request.Context(), creds.Username, creds.Password)
	if err != nil {
		handleUserError(c, err)
		return
	}

	a.startSession(c, http.StatusCreated, user)
}

// Login 校验密码，写入会话并签发令牌
func (a *API) Login(c *gin.Context) {
	creds, ok := parseCredentials(c)
	if !ok {
		return
	}

	user, err := a.users.Authenticate(c.Request.Context(), creds.Username, creds.Password)
	if err != nil {
		handleUserError(c, err)
		return
	}

	a.startSession(c, http.StatusOK, user)
}

// Logout 清除会话；令牌由客户端丢弃
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// Me 返回当前用户与经验等级
func (a *API) Me(c *gin.Context) {
	profile, err := a.gamification.Profile(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (a *API) startSession(c *gin.Context, status int, user *db.User) {
	session := sessions.Default(c)
	session.Set(sessionUserKey, user.ID)
	session.Set(sessionUsernameKey, user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	payload := gin.H{"user": userToPayload(*user)}
	if a.issuer != nil {
		token, err := a.issuer.Generate(user.ID, user.Username)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "签发令牌失败")
			return
		}
		payload["token"] = token
	}
	c.JSON(status, payload)
}

// AuthRequired 依次尝试 Bearer 令牌、token 查询参数与会话 cookie
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := a.authenticate(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "未登录或登录已过期")
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func (a *API) authenticate(c *gin.Context) (uint, bool) {
	token := ""
	if header := c.GetHeader("Authorization"); header != "" {
		if raw, found := strings.CutPrefix(header, "Bearer "); found {
			token = strings.TrimSpace(raw)
		}
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}

	if token != "" {
		// 显式提供了令牌时不再回退到会话
		if a.issuer == nil {
			return 0, false
		}
		claims, err := a.issuer.Validate(token)
		if err != nil {
			return 0, false
		}
		return claims.UserID, true
	}

	session := sessions.Default(c)
	if id, ok := session.Get(sessionUserKey).(uint); ok && id != 0 {
		return id, true
	}
	return 0, false
}

func parseCredentials(c *gin.Context) (credentialsPayload, bool) {
	var creds credentialsPayload
	if isJSONRequest(c) {
		if !bindJSON(c, &creds, "请求参数不合法") {
			return creds, false
		}
	} else {
		creds.Username = c.PostForm("username")
		creds.Password = c.PostForm("password")
	}
	return creds, true
}

func userToPayload(user db.User) gin.H {
	return gin.H{
		"id":       user.ID,
		"username": user.Username,
		"total_xp": user.TotalXP,
		"level":    user.Level,
	}
}

func handleUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
	case errors.Is(err, service.ErrUsernameTaken):
		respondError(c, http.StatusConflict, "用户名已存在")
	case errors.Is(err, service.ErrInvalidUser):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "用户不存在")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
