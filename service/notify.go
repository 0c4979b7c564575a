package service

import (
	"sync"
	"time"

	"github.com/AnTengye/sigscan/model"
)

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(level model.NotificationLevel, message string)
}

// NotificationQueue buffers notifications until the client drains them.
// When full, the oldest entry is dropped.
type NotificationQueue struct {
	mu    sync.Mutex
	items []model.Notification
	limit int
}

func NewNotificationQueue(limit int) *NotificationQueue {
	if limit <= 0 {
		limit = 50
	}
	return &NotificationQueue{limit: limit}
}

func (q *NotificationQueue) Notify(level model.NotificationLevel, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, model.Notification{
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	})
	if over := len(q.items) - q.limit; over > 0 {
		q.items = q.items[over:]
	}
}

// Drain returns queued notifications in arrival order and empties the queue.
func (q *NotificationQueue) Drain() []model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	if out == nil {
		out = []model.Notification{}
	}
	return out
}

func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
