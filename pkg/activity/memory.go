package activity

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder implements Recorder using an in-memory map with TTL-based
// expiration. Suitable for single-instance deployments and tests.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryRecorder creates an in-memory activity recorder.
func NewMemoryRecorder(ttl time.Duration) *MemoryRecorder {
	return &MemoryRecorder{
		records: make(map[string]*Record),
		ttl:     ttl,
	}
}

// Create persists a new record.
func (m *MemoryRecorder) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.SessionID] = rec
	return nil
}

// Get retrieves a record by session ID. Returns nil, nil if not found or
// expired.
func (m *MemoryRecorder) Get(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[sessionID]
	if !ok {
		return nil, nil //nolint:nilnil // Recorder interface specifies nil,nil for not-found
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, nil //nolint:nilnil // Recorder interface specifies nil,nil for expired
	}
	return rec, nil
}

// Touch moves LastActiveAt to now and extends ExpiresAt by the TTL.
func (m *MemoryRecorder) Touch(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[sessionID]
	if !ok {
		return nil
	}

	now := time.Now()
	rec.LastActiveAt = now
	rec.ExpiresAt = now.Add(m.ttl)
	return nil
}

// Delete removes a record.
func (m *MemoryRecorder) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, sessionID)
	return nil
}

// Cleanup removes expired records.
func (m *MemoryRecorder) Cleanup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, rec := range m.records {
		if now.After(rec.ExpiresAt) {
			delete(m.records, id)
		}
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired records. The goroutine is stopped when Close is called.
func (m *MemoryRecorder) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.Cleanup(ctx)
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit. Safe to call
// even if StartCleanupRoutine was never called.
func (m *MemoryRecorder) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

// Verify interface compliance.
var _ Recorder = (*MemoryRecorder)(nil)
