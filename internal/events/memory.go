package events

import (
	"context"
	"sync"
	"time"
)

// MemoryBus 是单进程内的事件总线，适合单实例部署与测试。
type MemoryBus struct {
	mu          sync.RWMutex
	subs        map[*memorySubscription]struct{}
	mailboxSize int
	closed      bool
	now         func() time.Time
}

// NewMemoryBus 创建内存总线；mailboxSize<=0 时使用 DefaultMailboxSize。
func NewMemoryBus(mailboxSize int) *MemoryBus {
	return &MemoryBus{
		subs:        make(map[*memorySubscription]struct{}),
		mailboxSize: mailboxSize,
		now:         time.Now,
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	pattern string
	box     *Mailbox
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.box.C()
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		s.box.Close()
		close(s.done)
	})
	return nil
}

// Publish 把事件放入所有匹配订阅者的信箱，没有订阅者时直接丢弃。
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event = event.Stamp(b.now())

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for sub := range b.subs {
		if Match(sub.pattern, topic) {
			sub.box.Push(event)
		}
	}
	return nil
}

// Subscribe 注册订阅；ctx 结束时订阅自动关闭。
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	sub := &memorySubscription{
		bus:     b,
		pattern: pattern,
		box:     NewMailbox(b.mailboxSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Close 关闭总线与全部订阅。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
