package audit

import (
	"context"
	"log/slog"
	"sync"
)

// defaultCapacity bounds the in-memory event buffer.
const defaultCapacity = 1000

// MemoryLogger implements Logger with a bounded in-memory buffer. Oldest
// events are evicted when the buffer is full. Suitable for development and
// tests.
type MemoryLogger struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewMemoryLogger creates an in-memory audit logger. capacity <= 0 selects
// the default.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryLogger{capacity: capacity}
}

// Log records an audit event.
func (l *MemoryLogger) Log(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}

	slog.Debug("audit",
		"action", string(event.Action),
		"user_id", event.UserID,
		"reason", event.Reason,
		"success", event.Success,
	)
	return nil
}

// Query retrieves audit events matching the filter, newest first.
func (l *MemoryLogger) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		if !matches(e, filter) {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Close releases resources.
func (*MemoryLogger) Close() error {
	return nil
}

// matches applies a filter to one event.
func matches(e Event, filter QueryFilter) bool {
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	if filter.UserID != "" && e.UserID != filter.UserID {
		return false
	}
	if filter.Success != nil && e.Success != *filter.Success {
		return false
	}
	if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}

// Verify interface compliance.
var _ Logger = (*MemoryLogger)(nil)
