// Package monitor enforces the inactivity and tab-hidden logout policies for
// one tab. It drives a small state machine over the session store, keeps at
// most one armed timer, and coordinates with other tabs through the logout
// broadcast channel.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/juceramics/sessiond/pkg/broadcast"
	"github.com/juceramics/sessiond/pkg/session"
)

// State is the monitor's lifecycle state.
type State int

// Monitor states.
const (
	// Unauthenticated means no login has been observed yet.
	Unauthenticated State = iota

	// Active means the user is logged in with the tab visible and focused.
	Active

	// InactivePending means the tab lost visibility or focus and the
	// hidden-tab timer is running.
	InactivePending

	// LoggedOut is terminal for the current session; a new login re-enters
	// Active.
	LoggedOut
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Active:
		return "active"
	case InactivePending:
		return "inactive_pending"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Timer is a cancellable single-shot scheduled task.
type Timer interface {
	// Stop cancels the timer; it reports false when the task already ran
	// or was stopped.
	Stop() bool
}

// TimerFactory schedules fn after d. The default uses time.AfterFunc.
type TimerFactory func(d time.Duration, fn func()) Timer

// Config configures a Monitor.
type Config struct {
	// Store is the tab's session store.
	Store *session.Store

	// Channel propagates logout to other tabs. Optional.
	Channel broadcast.Channel

	// Threshold is the inactivity window. Required.
	Threshold time.Duration

	// Clock overrides time.Now. Test hook.
	Clock func() time.Time

	// NewTimer overrides the timer factory. Test hook.
	NewTimer TimerFactory

	// OnLogout is invoked after a logout with the reason, for user-facing
	// messaging. Optional; never used for control flow.
	OnLogout func(reason session.Reason)
}

// Monitor watches one tab's activity and signs the session out when the
// inactivity or hidden-tab policy trips. All event methods are safe for
// concurrent use: within a tab events are sequential, but a cross-tab
// broadcast arrives asynchronously.
type Monitor struct {
	store     *session.Store
	channel   broadcast.Channel
	threshold time.Duration
	clock     func() time.Time
	newTimer  TimerFactory
	onLogout  func(session.Reason)

	mu    sync.Mutex
	state State

	// timer is the single armed handle; arming always replaces it. gen
	// invalidates callbacks from timers that were replaced after firing.
	timer Timer
	gen   uint64
}

// New creates a monitor. Call Start to begin observing the broadcast channel.
func New(cfg Config) *Monitor {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	factory := cfg.NewTimer
	if factory == nil {
		factory = func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		}
	}

	return &Monitor{
		store:     cfg.Store,
		channel:   cfg.Channel,
		threshold: cfg.Threshold,
		clock:     clock,
		newTimer:  factory,
		onLogout:  cfg.OnLogout,
		state:     Unauthenticated,
	}
}

// Start subscribes to the logout broadcast and returns a disposer that must
// be invoked on teardown. The disposer cancels any armed timer and
// unsubscribes, preventing a stale logout from firing after teardown.
func (m *Monitor) Start() (stop func()) {
	var unsubscribe func()
	if m.channel != nil {
		unsubscribe = m.channel.Subscribe(m.observeBroadcast)
	}

	return func() {
		m.mu.Lock()
		m.disarmLocked()
		m.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	}
}

// State returns the current monitor state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Login transitions into Active after a successful login or an authenticated
// server hydration. It resets activity and arms a fresh inactivity timer.
func (m *Monitor) Login() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Active
	m.store.ResetActivity()
	m.store.SetTabVisibility(true)
	m.armLocked(m.threshold)
}

// Interaction records a tracked user interaction (pointer, key, scroll,
// touch). In Active it resets activity and re-arms the timer; elsewhere it is
// a no-op.
func (m *Monitor) Interaction() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active {
		return
	}
	m.store.ResetActivity()
	m.armLocked(m.threshold)
}

// TabHidden handles the tab losing visibility or the window losing focus.
// It arms the hidden-tab timer without touching the activity timestamp.
func (m *Monitor) TabHidden() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.SetTabVisibility(false)
	if m.state != Active {
		return
	}
	m.state = InactivePending
	m.armLocked(m.threshold)
}

// TabVisible handles the tab regaining visibility and focus. If the elapsed
// time since last activity already exceeds the threshold the session is
// logged out; otherwise the hidden-tab timer is replaced with a fresh
// inactivity timer. The activity timestamp itself is not moved: only real
// interactions do that.
func (m *Monitor) TabVisible(ctx context.Context) {
	m.mu.Lock()
	m.store.SetTabVisibility(true)
	if m.state != InactivePending {
		m.mu.Unlock()
		return
	}

	if m.clock().Sub(m.store.LastActivity()) > m.threshold {
		m.mu.Unlock()
		m.SignOut(ctx, session.ReasonTabHidden)
		return
	}

	m.state = Active
	m.armLocked(m.threshold)
	m.mu.Unlock()
}

// RouteChanged handles a client-side navigation. The elapsed inactivity is
// re-validated first to catch tabs the operating system suspended without a
// visibility event; a live navigation then counts as an interaction.
func (m *Monitor) RouteChanged(ctx context.Context) {
	m.mu.Lock()
	if m.state != Active && m.state != InactivePending {
		m.mu.Unlock()
		return
	}

	if m.clock().Sub(m.store.LastActivity()) > m.threshold {
		m.mu.Unlock()
		m.SignOut(ctx, session.ReasonInactivity)
		return
	}

	m.store.ResetActivity()
	m.armLocked(m.threshold)
	m.mu.Unlock()
}

// SignOut transitions to LoggedOut from any state: cancels the armed timer,
// signs the session store out, and publishes the logout for other tabs.
// Signing out an already-logged-out monitor is a no-op.
func (m *Monitor) SignOut(ctx context.Context, reason session.Reason) {
	m.mu.Lock()
	if m.state == LoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = LoggedOut
	m.disarmLocked()
	m.mu.Unlock()

	if err := m.store.SignOut(ctx, reason); err != nil {
		slog.Warn("monitor: sign-out revocation failed", "reason", string(reason), "error", err)
	}

	if m.channel != nil {
		if err := m.channel.Publish(ctx, m.clock()); err != nil {
			slog.Debug("monitor: logout broadcast failed", "error", err)
		}
	}

	if m.onLogout != nil {
		m.onLogout(reason)
	}
}

// TabClosed handles the tab being closed: best-effort logout so remaining
// tabs observe the broadcast even when this was the last active one.
func (m *Monitor) TabClosed(ctx context.Context) {
	m.SignOut(ctx, session.ReasonTabClosed)
}

// observeBroadcast handles a logout published by another tab. The local
// session is cleared without a provider-level sign-out call and without
// re-publishing, so a logout episode triggers at most one revocation.
func (m *Monitor) observeBroadcast(time.Time) {
	m.mu.Lock()
	if m.state == LoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = LoggedOut
	m.disarmLocked()
	m.mu.Unlock()

	m.store.SignOutLocal()

	if m.onLogout != nil {
		m.onLogout(session.ReasonBroadcast)
	}
}

// armLocked replaces the armed timer with a fresh one. Caller holds mu.
// Replacing first guarantees at most one pending logout task and that a reset
// and a fire can never both apply.
func (m *Monitor) armLocked(d time.Duration) {
	m.disarmLocked()
	m.gen++
	gen := m.gen
	m.timer = m.newTimer(d, func() { m.timerFired(gen) })
}

// disarmLocked cancels the armed timer, if any. Caller holds mu.
func (m *Monitor) disarmLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// timerFired handles a timer expiry. Stale generations are dropped: a timer
// that fired concurrently with being replaced must not log out.
func (m *Monitor) timerFired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	reason := session.ReasonInactivity
	if m.state == InactivePending {
		reason = session.ReasonTabHidden
	}
	m.mu.Unlock()

	m.SignOut(context.Background(), reason)
}
