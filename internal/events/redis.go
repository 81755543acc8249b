package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/habitpulse/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 通过 Redis PUBLISH/PSUBSCRIBE 在多个进程之间扇出事件。
// 每个进程订阅 user:*，只把事件交给本进程持有的连接。
type RedisBus struct {
	client      redis.UniversalClient
	mailboxSize int
	now         func() time.Time

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisBus 基于已有客户端创建总线；客户端的生命周期由调用方负责。
func NewRedisBus(client redis.UniversalClient, mailboxSize int) *RedisBus {
	return &RedisBus{
		client:      client,
		mailboxSize: mailboxSize,
		now:         time.Now,
		subs:        make(map[*redisSubscription]struct{}),
	}
}

type redisSubscription struct {
	bus    *RedisBus
	pubsub *redis.PubSub
	box    *Mailbox
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan Event {
	return s.box.C()
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// Publish 序列化事件并发布到主题；没有订阅者时 Redis 会直接丢弃。
func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	data, err := json.Marshal(event.Stamp(b.now()))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe 订阅主题或以 * 结尾的模式，并等待 Redis 确认后才返回。
func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	var ps *redis.PubSub
	if strings.HasSuffix(pattern, "*") {
		ps = b.client.PSubscribe(ctx, pattern)
	} else {
		ps = b.client.Subscribe(ctx, pattern)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", pattern, err)
	}

	sub := &redisSubscription{
		bus:    b,
		pubsub: ps,
		box:    NewMailbox(b.mailboxSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump(ctx)
	return sub, nil
}

// pump 把 Redis 消息解码后放入信箱；Redis 通道关闭时信箱随之关闭。
func (s *redisSubscription) pump(ctx context.Context) {
	defer s.box.Close()

	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.L().Warn("bus_decode_failed", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if event.UserID == 0 {
				if id, err := ParseTopic(msg.Channel); err == nil {
					event.UserID = id
				}
			}
			s.box.Push(event)
		}
	}
}

// Close 关闭全部订阅，但不关闭 Redis 客户端。
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
