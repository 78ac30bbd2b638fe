package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(sec int) time.Time {
	return time.Date(2025, 6, 15, 10, 0, sec, 0, time.UTC)
}

func TestHub_PublishNotifiesObservers(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	var got []time.Time
	unsubscribe := hub.Subscribe(func(v time.Time) { got = append(got, v) })
	defer unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), ts(1)))

	require.Len(t, got, 1)
	assert.Equal(t, ts(1), got[0])
}

func TestHub_LastWriteWins(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	var got []time.Time
	unsubscribe := hub.Subscribe(func(v time.Time) { got = append(got, v) })
	defer unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), ts(5)))
	require.NoError(t, hub.Publish(context.Background(), ts(3)))

	assert.Len(t, got, 1, "an older timestamp must be dropped")

	last, err := hub.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ts(5), last)
}

func TestHub_DuplicateTimestampDropped(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	calls := 0
	unsubscribe := hub.Subscribe(func(time.Time) { calls++ })
	defer unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), ts(1)))
	require.NoError(t, hub.Publish(context.Background(), ts(1)))

	assert.Equal(t, 1, calls)
}

func TestHub_NoReplayToLateSubscriber(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	require.NoError(t, hub.Publish(context.Background(), ts(1)))

	calls := 0
	unsubscribe := hub.Subscribe(func(time.Time) { calls++ })
	defer unsubscribe()

	assert.Zero(t, calls, "values published before subscription are not replayed")

	// A strictly newer value still reaches the late subscriber.
	require.NoError(t, hub.Publish(context.Background(), ts(2)))
	assert.Equal(t, 1, calls)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	calls := 0
	unsubscribe := hub.Subscribe(func(time.Time) { calls++ })
	unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), ts(1)))

	assert.Zero(t, calls)
}

func TestHub_PublishAfterClose(t *testing.T) {
	hub := NewHub()

	calls := 0
	hub.Subscribe(func(time.Time) { calls++ })
	require.NoError(t, hub.Close())

	require.NoError(t, hub.Publish(context.Background(), ts(1)))

	assert.Zero(t, calls)
}

func TestHub_MultipleObservers(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	var a, b int
	hub.Subscribe(func(time.Time) { a++ })
	hub.Subscribe(func(time.Time) { b++ })

	require.NoError(t, hub.Publish(context.Background(), ts(1)))

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestHub_LastZeroBeforePublish(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Close() }()

	last, err := hub.Last(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}
