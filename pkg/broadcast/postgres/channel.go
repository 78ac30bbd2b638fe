// Package postgres provides a PostgreSQL-backed broadcast channel for
// deployments where tabs are served by multiple instances. The shared key is
// a single row; observers poll it and apply last-write-wins locally.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juceramics/sessiond/pkg/broadcast"
)

// defaultPollInterval bounds how stale a remote logout observation can be.
const defaultPollInterval = 2 * time.Second

// Channel implements broadcast.Channel over a single-row Postgres table.
type Channel struct {
	db   *sql.DB
	key  string
	poll time.Duration

	mu        sync.Mutex
	nextID    int
	observers map[int]*pgObserver

	cancel context.CancelFunc
	done   chan struct{}
}

type pgObserver struct {
	fn   broadcast.Observer
	seen time.Time
}

// Config configures the Postgres broadcast channel.
type Config struct {
	// Key overrides the broadcast key. Defaults to broadcast.LogoutKey.
	Key string

	// PollInterval overrides the polling cadence.
	PollInterval time.Duration
}

// New creates a Postgres broadcast channel and starts its poller.
func New(db *sql.DB, cfg Config) *Channel {
	key := cfg.Key
	if key == "" {
		key = broadcast.LogoutKey
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = defaultPollInterval
	}

	c := &Channel{
		db:        db,
		key:       key,
		poll:      poll,
		observers: make(map[int]*pgObserver),
	}
	c.start()
	return c
}

// Publish upserts the logout timestamp, keeping the newer value.
func (c *Channel) Publish(ctx context.Context, ts time.Time) error {
	query := `
		INSERT INTO logout_broadcast (key, logged_out_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET logged_out_at = EXCLUDED.logged_out_at
		WHERE logout_broadcast.logged_out_at < EXCLUDED.logged_out_at
	`
	if _, err := c.db.ExecContext(ctx, query, c.key, ts); err != nil {
		return fmt.Errorf("publishing logout broadcast: %w", err)
	}

	// Deliver locally without waiting for the next poll.
	c.deliver(ts)
	return nil
}

// Subscribe registers an observer and returns its disposer.
func (c *Channel) Subscribe(obs broadcast.Observer) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = &pgObserver{fn: obs, seen: time.Now()}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Last returns the most recent published timestamp.
func (c *Channel) Last(ctx context.Context) (time.Time, error) {
	var ts time.Time
	query := `SELECT logged_out_at FROM logout_broadcast WHERE key = $1`
	err := c.db.QueryRowContext(ctx, query, c.key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading logout broadcast: %w", err)
	}
	return ts, nil
}

// Close stops the poller and waits for it to exit.
func (c *Channel) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

// start launches the polling goroutine.
func (c *Channel) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts, err := c.Last(ctx)
				if err != nil {
					slog.Debug("broadcast poll failed", "error", err)
					continue
				}
				if !ts.IsZero() {
					c.deliver(ts)
				}
			}
		}
	}()
}

// deliver notifies observers that have not yet processed ts.
func (c *Channel) deliver(ts time.Time) {
	c.mu.Lock()
	var pending []broadcast.Observer
	for _, obs := range c.observers {
		if ts.After(obs.seen) {
			obs.seen = ts
			pending = append(pending, obs.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range pending {
		fn(ts)
	}
}

// Verify interface compliance.
var _ broadcast.Channel = (*Channel)(nil)
