package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func newTestEngine(api *API) *gin.Engine {
	r := gin.New()
	r.Use(sessions.Sessions("habitpulse_session", cookie.NewStore([]byte("test-session-secret"))))

	r.POST("/api/auth/register", api.Register)
	r.POST("/api/auth/login", api.Login)
	r.POST("/api/auth/logout", api.Logout)

	authed := r.Group("/api", api.AuthRequired())
	authed.GET("/me", api.Me)
	authed.GET("/events", api.StreamEvents)

	r.GET("/ws", api.AuthRequired(), api.ServeWebSocket)
	return r
}

func serve(r http.Handler, method, target string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(req *http.Request) {
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
	}
}

func TestLoginIssuesTokenAndSession(t *testing.T) {
	env := setupTestAPI(t)
	r := newTestEngine(env.api)

	w := serve(r, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "secret-pass"}, nil)
	expectStatus(t, w, http.StatusOK)
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("expected a token in login response")
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected a session cookie")
	}

	w = serve(r, http.MethodGet, "/api/me", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
	expectStatus(t, w, http.StatusOK)
	profile := decode(t, w)["profile"].(map[string]any)
	if profile["username"] != "alice" || profile["level"] != float64(1) {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	w = serve(r, http.MethodGet, "/api/me?token="+token, nil, nil)
	expectStatus(t, w, http.StatusOK)

	w = serve(r, http.MethodGet, "/api/me", nil, withCookies(cookies))
	expectStatus(t, w, http.StatusOK)

	w = serve(r, http.MethodGet, "/api/me", nil, nil)
	expectStatus(t, w, http.StatusUnauthorized)

	// 显式给出的错误令牌不会回退到会话
	w = serve(r, http.MethodGet, "/api/me", nil, func(req *http.Request) {
		withCookies(cookies)(req)
		req.Header.Set("Authorization", "Bearer not-a-token")
	})
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestLogoutClearsSession(t *testing.T) {
	env := setupTestAPI(t)
	r := newTestEngine(env.api)

	w := serve(r, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "secret-pass"}, nil)
	expectStatus(t, w, http.StatusOK)
	cookies := w.Result().Cookies()

	w = serve(r, http.MethodPost, "/api/auth/logout", nil, withCookies(cookies))
	expectStatus(t, w, http.StatusOK)

	w = serve(r, http.MethodGet, "/api/me", nil, withCookies(w.Result().Cookies()))
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestRegisterAndLoginErrors(t *testing.T) {
	env := setupTestAPI(t)
	r := newTestEngine(env.api)

	w := serve(r, http.MethodPost, "/api/auth/register", map[string]string{"username": "carol", "password": "carol-pass"}, nil)
	expectStatus(t, w, http.StatusCreated)
	if user := decode(t, w)["user"].(map[string]any); user["username"] != "carol" {
		t.Fatalf("unexpected user payload: %+v", user)
	}

	w = serve(r, http.MethodPost, "/api/auth/register", map[string]string{"username": "alice", "password": "another-pass"}, nil)
	expectStatus(t, w, http.StatusConflict)

	w = serve(r, http.MethodPost, "/api/auth/register", map[string]string{"username": "dave", "password": "123"}, nil)
	expectStatus(t, w, http.StatusBadRequest)

	w = serve(r, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "wrong-pass"}, nil)
	expectStatus(t, w, http.StatusUnauthorized)

	w = serve(r, http.MethodPost, "/api/auth/login", map[string]string{"username": "nobody", "password": "secret-pass"}, nil)
	expectStatus(t, w, http.StatusUnauthorized)
}
