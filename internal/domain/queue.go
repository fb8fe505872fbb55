package domain

import "time"

// Queue is a named routing bucket with an optional automatic assignee.
type Queue struct {
	Name              string
	AutomaticAssignee *string
	CreatedAt         time.Time
}

// Key returns the case-insensitive lookup key of the queue.
func (q Queue) Key() string {
	return QueueKey(q.Name)
}
