package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/habitpulse/internal/events"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	got    []events.Event
	fail   error
	block  bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, e events.Event) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, e)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.got...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestDeliverToAllConnections(t *testing.T) {
	reg := NewRegistry(time.Second)
	a, b := newFakeConn("a"), newFakeConn("b")
	reg.Register(a, 1)
	reg.Register(b, 1)

	event := events.New(events.TypeHabitLogged, 1, map[string]any{"habit_id": uint(3)})
	if n := reg.Deliver(context.Background(), 1, event); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(a.received()) != 1 || len(b.received()) != 1 {
		t.Fatalf("expected both connections to receive, got %d and %d", len(a.received()), len(b.received()))
	}

	reg.Unregister(a, 1)
	if n := reg.Deliver(context.Background(), 1, event); n != 1 {
		t.Fatalf("expected 1 delivery after unregister, got %d", n)
	}
	if len(a.received()) != 1 || len(b.received()) != 2 {
		t.Fatalf("unexpected counts after unregister: %d and %d", len(a.received()), len(b.received()))
	}
}

func TestDeliverEvictsFailingConnection(t *testing.T) {
	reg := NewRegistry(50 * time.Millisecond)
	good := newFakeConn("good")
	broken := newFakeConn("broken")
	broken.fail = errors.New("write: broken pipe")
	slow := newFakeConn("slow")
	slow.block = true

	reg.Register(good, 5)
	reg.Register(broken, 5)
	reg.Register(slow, 5)

	n := reg.Deliver(context.Background(), 5, events.New(events.TypeNudge, 5, nil))
	if n != 1 {
		t.Fatalf("expected only the healthy connection to succeed, got %d", n)
	}
	if !broken.isClosed() || !slow.isClosed() {
		t.Fatalf("failing connections must be closed")
	}
	if good.isClosed() {
		t.Fatalf("healthy connection must stay open")
	}
	if reg.Count(5) != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", reg.Count(5))
	}
}

func TestDeliverWithoutConnections(t *testing.T) {
	reg := NewRegistry(0)
	if n := reg.Deliver(context.Background(), 42, events.New(events.TypeNudge, 42, nil)); n != 0 {
		t.Fatalf("expected silent drop, got %d", n)
	}
}

func TestUnregisterDropsEmptyUser(t *testing.T) {
	reg := NewRegistry(0)
	conn := newFakeConn("only")
	reg.Register(conn, 8)
	reg.Register(conn, 8)
	if reg.Count(8) != 1 {
		t.Fatalf("duplicate register must be a no-op, got %d", reg.Count(8))
	}

	reg.Unregister(conn, 8)
	reg.Unregister(conn, 8)
	if reg.Users() != 0 {
		t.Fatalf("expected empty user entry removed, got %d users", reg.Users())
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Delay(i); got != w*time.Millisecond {
			t.Fatalf("Delay(%d) = %v, want %v", i, got, w*time.Millisecond)
		}
	}
	if got := b.Delay(100); got != 50*time.Millisecond {
		t.Fatalf("expected cap for large attempts, got %v", got)
	}
}
