package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/habitpulse/internal/events"
)

// flakyBus 在前 failures 次订阅时返回错误，并记录成功的订阅。
type flakyBus struct {
	*events.MemoryBus
	mu         sync.Mutex
	failures   int
	subs       []events.Subscription
	subscribed chan struct{}
}

func newFlakyBus(failures int) *flakyBus {
	return &flakyBus{
		MemoryBus:  events.NewMemoryBus(16),
		failures:   failures,
		subscribed: make(chan struct{}, 8),
	}
}

func (b *flakyBus) Subscribe(ctx context.Context, pattern string) (events.Subscription, error) {
	b.mu.Lock()
	if b.failures > 0 {
		b.failures--
		b.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	b.mu.Unlock()

	sub, err := b.MemoryBus.Subscribe(ctx, pattern)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.subscribed <- struct{}{}
	return sub, nil
}

func (b *flakyBus) last() events.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[len(b.subs)-1]
}

func startListener(t *testing.T, bus events.Bus, reg *Registry) (*Listener, context.CancelFunc) {
	t.Helper()
	l := NewListener(bus, reg)
	l.backoff = Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := l.Run(ctx); err != nil {
			t.Errorf("listener returned error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestListenerDeliversToUserConnections(t *testing.T) {
	bus := events.NewMemoryBus(16)
	reg := NewRegistry(time.Second)
	mine, other := newFakeConn("mine"), newFakeConn("other")
	reg.Register(mine, 1)
	reg.Register(other, 2)

	l, _ := startListener(t, bus, reg)
	<-l.Ready()

	event := events.New(events.TypeGoalCompleted, 1, map[string]any{"goal_id": uint(9)})
	if err := bus.Publish(context.Background(), events.Topic(1), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(mine.received()) == 1 })
	if got := mine.received()[0]; got.Type != events.TypeGoalCompleted || got.ID == "" {
		t.Fatalf("unexpected event delivered: %+v", got)
	}
	if len(other.received()) != 0 {
		t.Fatalf("other user must not receive the event")
	}
}

func TestListenerRetriesSubscribeAndResubscribesOnClose(t *testing.T) {
	bus := newFlakyBus(3)
	reg := NewRegistry(time.Second)
	conn := newFakeConn("c")
	reg.Register(conn, 4)

	l, _ := startListener(t, bus, reg)
	<-l.Ready()
	<-bus.subscribed

	// 模拟订阅流断开
	bus.last().Close()
	select {
	case <-bus.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not resubscribe")
	}

	if err := bus.Publish(context.Background(), events.Topic(4), events.New(events.TypeNudge, 4, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return len(conn.received()) == 1 })
}

func TestListenerStopsOnCancel(t *testing.T) {
	bus := newFlakyBus(1000)
	l := NewListener(bus, NewRegistry(0))
	l.backoff = Backoff{Base: time.Millisecond, Max: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not stop")
	}
}

func TestListenerSlowUserDoesNotDelayOthers(t *testing.T) {
	bus := events.NewMemoryBus(16)
	reg := NewRegistry(2 * time.Second)
	slow := newFakeConn("slow")
	slow.block = true
	fast := newFakeConn("fast")
	reg.Register(slow, 1)
	reg.Register(fast, 2)

	l, _ := startListener(t, bus, reg)
	<-l.Ready()

	ctx := context.Background()
	if err := bus.Publish(ctx, events.Topic(1), events.New(events.TypeNudge, 1, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	start := time.Now()
	if err := bus.Publish(ctx, events.Topic(2), events.New(events.TypeNudge, 2, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for len(fast.received()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("user 2 was blocked behind user 1 for %v", time.Since(start))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherKeepsOrderAndReleasesIdleQueues(t *testing.T) {
	reg := NewRegistry(time.Second)
	conn := newFakeConn("c")
	reg.Register(conn, 5)

	d := newDispatcher(reg, 8)
	d.idle = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.wait()
	}()

	for i := 0; i < 5; i++ {
		d.dispatch(ctx, events.New(events.TypeHabitLogged, 5, map[string]any{"seq": i}))
	}
	waitFor(t, func() bool { return len(conn.received()) == 5 })
	for i, e := range conn.received() {
		if e.Payload["seq"] != i {
			t.Fatalf("event %d delivered out of order: %+v", i, e.Payload)
		}
	}

	waitFor(t, func() bool { return d.active() == 0 })

	// 回收后再次分发会重建队列
	d.dispatch(ctx, events.New(events.TypeNudge, 5, nil))
	waitFor(t, func() bool { return len(conn.received()) == 6 })
}
