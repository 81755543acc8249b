package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNothing(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTopicHelpers(t *testing.T) {
	if Topic(42) != "user:42" {
		t.Fatalf("unexpected topic: %s", Topic(42))
	}
	id, err := ParseTopic("user:42")
	if err != nil || id != 42 {
		t.Fatalf("ParseTopic returned %d, %v", id, err)
	}
	if _, err := ParseTopic("goal:1"); err == nil {
		t.Fatal("expected error for foreign topic")
	}
	if !Match(UserTopicPattern, "user:7") || Match("user:7", "user:70") {
		t.Fatal("unexpected pattern matching")
	}
}

func TestMemoryBusFanOutToEverySubscriber(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	ctx := context.Background()

	exact, err := bus.Subscribe(ctx, Topic(1))
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	wildcard, err := bus.Subscribe(ctx, UserTopicPattern)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	other, err := bus.Subscribe(ctx, Topic(2))
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if err := bus.Publish(ctx, Topic(1), New(TypeNudge, 1, map[string]any{"message": "hi"})); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	first := receive(t, exact)
	second := receive(t, wildcard)
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Fatalf("expected event to be stamped, got %+v", first)
	}
	if first.ID != second.ID {
		t.Fatalf("subscribers saw different events: %s vs %s", first.ID, second.ID)
	}
	expectNothing(t, other)
}

func TestMemoryBusPublishWithoutSubscribersIsDropped(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	if err := bus.Publish(context.Background(), Topic(9), New(TypeNudge, 9, nil)); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}

	// 之后才订阅的不会收到旧事件
	sub, err := bus.Subscribe(context.Background(), Topic(9))
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	expectNothing(t, sub)
}

func TestMemoryBusDropsOldestWhenMailboxFull(t *testing.T) {
	bus := NewMemoryBus(2)
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, Topic(1))
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := bus.Publish(ctx, Topic(1), New(TypeNudge, 1, map[string]any{"n": i})); err != nil {
			t.Fatalf("Publish %d returned error: %v", i, err)
		}
	}

	got := []any{receive(t, sub).Payload["n"], receive(t, sub).Payload["n"]}
	if got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected oldest event dropped, got %v", got)
	}
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	bus := NewMemoryBus(2)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, Topic(1))
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after cancel")
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := bus.Publish(context.Background(), Topic(1), New(TypeNudge, 1, nil)); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestRedisBusDeliversAcrossClients(t *testing.T) {
	srv := miniredis.RunT(t)

	// 两个客户端模拟两个进程
	publisherClient := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer publisherClient.Close()
	listenerClient := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer listenerClient.Close()

	publisher := NewRedisBus(publisherClient, 8)
	listener := NewRedisBus(listenerClient, 8)
	defer listener.Close()

	ctx := context.Background()
	sub, err := listener.Subscribe(ctx, UserTopicPattern)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	ev := New(TypeGoalCompleted, 5, map[string]any{"goal_id": 3})
	if err := publisher.Publish(ctx, Topic(5), ev); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	got := receive(t, sub)
	if got.Type != TypeGoalCompleted || got.UserID != 5 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Payload["goal_id"] != float64(3) {
		t.Fatalf("unexpected payload: %v", got.Payload)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed channel after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
}

func TestRedisBusSubscribeFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	srv.Close()

	bus := NewRedisBus(client, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := bus.Subscribe(ctx, UserTopicPattern); err == nil {
		t.Fatal("expected subscribe error when redis is down")
	}
}
