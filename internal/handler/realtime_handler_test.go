package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/events"
	"golang.org/x/net/websocket"
)

// streamRecorder 为 SSE 测试补上 CloseNotify，并保护并发写入
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.WriteString(s)
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamEventsSendsConnectedThenPushes(t *testing.T) {
	env := setupTestAPI(t)
	userID := env.user.ID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newStreamRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	c.Set(userIDKey, userID)

	done := make(chan struct{})
	go func() {
		env.api.StreamEvents(c)
		close(done)
	}()

	waitFor(t, "sse registration", func() bool { return env.api.registry.Count(userID) == 1 })

	nudge := events.New(events.TypeNudge, userID, map[string]any{"message": "You have 1 inactive habit"}).Stamp(fixedNow)
	if n := env.api.registry.Deliver(context.Background(), userID, nudge); n != 1 {
		t.Fatalf("expected delivery to 1 connection, got %d", n)
	}
	waitFor(t, "nudge frame", func() bool { return strings.Contains(w.body(), "event:nudge") })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after the client went away")
	}

	body := w.body()
	if strings.Index(body, "event:connected") > strings.Index(body, "event:nudge") {
		t.Fatalf("expected connected before nudge, got %q", body)
	}
	if env.api.registry.Count(userID) != 0 {
		t.Fatalf("expected connection to be unregistered")
	}
}

func TestWebSocketHandshakePingAndPush(t *testing.T) {
	env := setupTestAPI(t)
	userID := env.user.ID

	srv := httptest.NewServer(newTestEngine(env.api))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, err := websocket.Dial(wsURL, "", "http://localhost/"); err == nil {
		t.Fatalf("expected unauthenticated dial to fail")
	}

	token, err := env.api.issuer.Generate(userID, env.user.Username)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	ws, err := websocket.Dial(wsURL+"?token="+token, "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	receive := func() events.Event {
		t.Helper()
		var evt events.Event
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := websocket.JSON.Receive(ws, &evt); err != nil {
			t.Fatalf("receive: %v", err)
		}
		return evt
	}

	connected := receive()
	if connected.Type != events.TypeConnected || connected.Payload["user_id"] != float64(userID) {
		t.Fatalf("expected connected frame first, got %+v", connected)
	}

	if err := websocket.Message.Send(ws, "ping"); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	if pong := receive(); pong.Type != events.TypePong {
		t.Fatalf("expected pong, got %+v", pong)
	}

	logged := events.New(events.TypeHabitLogged, userID, map[string]any{"habit_id": 1, "streak": 3}).Stamp(fixedNow)
	if n := env.api.registry.Deliver(context.Background(), userID, logged); n != 1 {
		t.Fatalf("expected delivery to 1 connection, got %d", n)
	}
	pushed := receive()
	if pushed.Type != events.TypeHabitLogged || pushed.ID != logged.ID || pushed.Payload["streak"] != float64(3) {
		t.Fatalf("unexpected pushed event: %+v", pushed)
	}

	ws.Close()
	waitFor(t, "websocket unregister", func() bool { return env.api.registry.Count(userID) == 0 })
}
