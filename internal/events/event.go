// Package events 定义领域事件信封以及按用户分主题的事件总线。
//
// 事件只是通知而非事实来源：丢失一条事件不会破坏任何状态，
// 客户端下次读取时会从事实表重新得到派生数据。
package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件种类
type Type string

const (
	TypeHabitLogged   Type = "habit_logged"
	TypeHabitAtRisk   Type = "habit_at_risk"
	TypeStreakBroken  Type = "streak_broken"
	TypeGoalCompleted Type = "goal_completed"
	TypeNudge         Type = "nudge"

	// 以下两类只在连接内产生，不经过总线
	TypeConnected Type = "connected"
	TypePong      Type = "pong"
)

// Event 是推送给客户端的统一信封。
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	UserID    uint           `json:"user_id"`
	Payload   map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// New 构造一个尚未打上 ID/时间戳的事件，由 Stamp 在发布时补齐。
func New(t Type, userID uint, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Type: t, UserID: userID, Payload: payload}
}

// Stamp 为缺失的 ID 与时间戳赋值并返回副本。
func (e Event) Stamp(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	return e
}

const topicPrefix = "user:"

// UserTopicPattern 匹配所有用户主题，每个进程的监听器订阅它。
const UserTopicPattern = topicPrefix + "*"

// Topic 返回用户主题名 user:<id>
func Topic(userID uint) string {
	return topicPrefix + strconv.FormatUint(uint64(userID), 10)
}

// ParseTopic 从 user:<id> 中解析出用户 ID。
func ParseTopic(topic string) (uint, error) {
	raw, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return 0, fmt.Errorf("not a user topic: %q", topic)
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id in topic %q", topic)
	}
	return uint(id), nil
}

// Match 判断主题是否满足订阅模式；模式只支持精确匹配或末尾的 *。
func Match(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}
