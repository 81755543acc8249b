package events

import (
	"context"
	"errors"
)

// ErrBusClosed 在总线关闭后发布或订阅时返回
var ErrBusClosed = errors.New("event bus closed")

// Bus 是按主题发布/订阅的事件总线。
//
// 投递语义：至少一次，只投递给发布时已存在的订阅者，不重放。
// Publish 不会因为慢消费者而阻塞。
type Bus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// Subscription 是一个订阅流。通道关闭表示订阅已失效，调用方应重新订阅。
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// DefaultMailboxSize 是每个订阅者的待处理事件上限
const DefaultMailboxSize = 256
