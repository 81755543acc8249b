package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/auth"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/events"
	"github.com/habitpulse/internal/realtime"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	api  *API
	bus  *events.MemoryBus
	user db.User
}

func setupTestAPI(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	issuer, err := auth.NewIssuer("handler-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	bus := events.NewMemoryBus(0)
	t.Cleanup(func() { bus.Close() })

	api := NewAPI(Deps{
		DB:       gdb,
		Bus:      bus,
		Issuer:   issuer,
		Registry: realtime.NewRegistry(time.Second),
		Clock:    func() time.Time { return fixedNow },
	})

	user, err := api.users.Register(context.Background(), "alice", "secret-pass")
	if err != nil {
		t.Fatalf("failed to register user: %v", err)
	}

	return testEnv{api: api, bus: bus, user: *user}
}

// call 以测试上下文直接调用 handler，userID 为 0 时视为未登录
func call(h gin.HandlerFunc, method, target string, body any, userID uint, params ...gin.Param) *httptest.ResponseRecorder {
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

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	if userID != 0 {
		c.Set(userIDKey, userID)
	}

	h(c)
	return w
}

func idParam(key string, id uint) gin.Param {
	return gin.Param{Key: key, Value: strconv.FormatUint(uint64(id), 10)}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func createHabitViaAPI(t *testing.T, env testEnv, payload map[string]any) uint {
	t.Helper()
	w := call(env.api.CreateHabit, http.MethodPost, "/api/habits", payload, env.user.ID)
	expectStatus(t, w, http.StatusCreated)
	habit := decode(t, w)["habit"].(map[string]any)
	return uint(habit["id"].(float64))
}
