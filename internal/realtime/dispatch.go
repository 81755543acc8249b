package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/habitpulse/internal/events"
)

const (
	// DefaultUserQueueSize 是每个用户待推送事件的上限，满时丢弃最旧的
	DefaultUserQueueSize = 64
	// queueIdleTimeout 之后没有新事件的用户队列会被回收
	queueIdleTimeout = time.Minute
)

// dispatcher 为每个用户维护一个队列和一个推送协程：
// 同一用户的事件按到达顺序推送，某个用户的慢连接不会拖住其他用户。
type dispatcher struct {
	registry *Registry
	size     int
	idle     time.Duration

	mu     sync.Mutex
	queues map[uint]*events.Mailbox
	wg     sync.WaitGroup
}

func newDispatcher(registry *Registry, size int) *dispatcher {
	return &dispatcher{
		registry: registry,
		size:     size,
		idle:     queueIdleTimeout,
		queues:   make(map[uint]*events.Mailbox),
	}
}

// dispatch 把事件放入用户队列，永不阻塞。
func (d *dispatcher) dispatch(ctx context.Context, event events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	box, ok := d.queues[event.UserID]
	if !ok {
		box = events.NewMailbox(d.size)
		d.queues[event.UserID] = box
		d.wg.Add(1)
		go d.drain(ctx, event.UserID, box)
	}
	box.Push(event)
}

func (d *dispatcher) drain(ctx context.Context, userID uint, box *events.Mailbox) {
	defer d.wg.Done()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.remove(userID, box)
			return
		case event := <-box.C():
			d.registry.Deliver(ctx, userID, event)
			timer.Reset(d.idle)
		case <-timer.C:
			// 入队与回收都持有 d.mu，回收时队列为空就不会丢事件
			d.mu.Lock()
			if len(box.C()) == 0 {
				delete(d.queues, userID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *dispatcher) remove(userID uint, box *events.Mailbox) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues[userID] == box {
		delete(d.queues, userID)
	}
}

// active 返回当前存活的用户队列数。
func (d *dispatcher) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// wait 等待所有推送协程退出。
func (d *dispatcher) wait() {
	d.wg.Wait()
}
