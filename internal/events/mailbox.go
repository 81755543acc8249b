package events

import (
	"sync"

	"github.com/habitpulse/internal/metrics"
)

// Mailbox 是单个消费者的有界缓冲：满时丢弃最旧的一条，写入方永不阻塞。
type Mailbox struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewMailbox 创建容量为 size 的信箱，size<=0 时使用 DefaultMailboxSize。
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{ch: make(chan Event, size)}
}

// C 返回读取端。
func (m *Mailbox) C() <-chan Event {
	return m.ch
}

// Push 投递事件，返回是否因缓冲已满丢弃了旧事件。
func (m *Mailbox) Push(e Event) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	for {
		select {
		case m.ch <- e:
			return dropped
		default:
		}

		select {
		case <-m.ch:
			dropped = true
			metrics.MailboxDropped.Inc()
		default:
			// 消费者刚好取走了一条，重试写入
		}
	}
}

// Close 关闭读取端，之后的 Push 被忽略。
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
