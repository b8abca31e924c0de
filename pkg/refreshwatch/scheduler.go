package refreshwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoActiveUser indicates no provider-side user session exists in this tab,
// so no fresh assertion can be fetched.
var ErrNoActiveUser = errors.New("refreshwatch.no_active_user")

// Session is the client's view of the server-held session context: enough
// timing to schedule the next refresh and the opaque token to present with
// it. Expiry fields are advisory only; the server remains the sole authority
// on whether a record is still valid.
type Session struct {
	Authenticated  bool
	Expires        int64
	RefreshToken   string
	RefreshExpires int64
}

// SessionAPI is the server surface the scheduler drives: a rotating refresh
// call and a read-only context reload.
type SessionAPI interface {
	Refresh(ctx context.Context, assertion string, refreshToken string) (*Session, error)
	Load(ctx context.Context) (*Session, error)
}

// AssertionSource is the identity provider's client SDK: it knows whether a
// provider-side user session exists in this tab and can force-fetch a fresh
// identity assertion.
type AssertionSource interface {
	ActiveUser() bool
	ForceRefresh(ctx context.Context) (string, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Config configures a Scheduler.
type Config struct {
	// Lead is how long before session expiry the refresh fires.
	Lead   time.Duration
	Clock  Clock
	Logger *zap.Logger
}

// Scheduler is the per-tab actor. Timers and broadcast signals are its only
// suspension points; a network call suspends this tab's loop but never its
// siblings.
type Scheduler struct {
	api         SessionAPI
	source      AssertionSource
	broadcaster *Broadcaster
	lead        time.Duration
	clock       Clock
	logger      *zap.Logger

	mutex         sync.Mutex
	current       *Session
	timer         *time.Timer
	armGeneration int
	lastRefreshed time.Time

	trigger       chan struct{}
	notifications <-chan struct{}
	unsubscribe   func()
	done          chan struct{}
}

// NewScheduler wires a scheduler to the API, assertion source, and the
// cross-tab broadcaster.
func NewScheduler(api SessionAPI, source AssertionSource, broadcaster *Broadcaster, config Config) *Scheduler {
	clock := config.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lead := config.Lead
	if lead <= 0 {
		lead = 15 * time.Minute
	}
	return &Scheduler{
		api:         api,
		source:      source,
		broadcaster: broadcaster,
		lead:        lead,
		clock:       clock,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
	}
}

// Run starts the actor loop and blocks until ctx is cancelled. The initial
// context (from the page load) should be handed to SetContext before or after
// starting Run; both orders are safe.
func (scheduler *Scheduler) Run(ctx context.Context) {
	notifications, unsubscribe := scheduler.broadcaster.Subscribe()
	scheduler.mutex.Lock()
	scheduler.notifications = notifications
	scheduler.unsubscribe = unsubscribe
	scheduler.done = make(chan struct{})
	done := scheduler.done
	scheduler.mutex.Unlock()

	defer func() {
		unsubscribe()
		scheduler.clearTimerLocked()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.performRefresh(ctx)
		case <-notifications:
			scheduler.performReload(ctx)
		}
	}
}

// Done reports loop termination; nil before Run has started.
func (scheduler *Scheduler) Done() <-chan struct{} {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()
	return scheduler.done
}

// SetContext installs a new session context and re-arms the one-shot timer at
// expiresAt minus the lead time. A context with no refresh token or a firing
// point already in the past triggers an immediate refresh. Any previously
// armed timer is cancelled.
func (scheduler *Scheduler) SetContext(session *Session) {
	scheduler.mutex.Lock()
	scheduler.current = session
	scheduler.armGeneration++
	generation := scheduler.armGeneration
	if scheduler.timer != nil {
		scheduler.timer.Stop()
		scheduler.timer = nil
	}
	if session == nil {
		scheduler.mutex.Unlock()
		return
	}
	nextRefreshAt := time.Unix(session.Expires, 0).Add(-scheduler.lead)
	delay := nextRefreshAt.Sub(scheduler.clock.Now())
	if session.RefreshToken == "" || delay <= 0 {
		scheduler.mutex.Unlock()
		scheduler.fire(generation)
		return
	}
	scheduler.timer = time.AfterFunc(delay, func() {
		scheduler.fire(generation)
	})
	scheduler.mutex.Unlock()
}

// Context returns the currently installed session context.
func (scheduler *Scheduler) Context() *Session {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()
	return scheduler.current
}

// LastRefreshed returns when this tab last completed a refresh of its own.
func (scheduler *Scheduler) LastRefreshed() time.Time {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()
	return scheduler.lastRefreshed
}

func (scheduler *Scheduler) fire(generation int) {
	scheduler.mutex.Lock()
	stale := generation != scheduler.armGeneration
	scheduler.mutex.Unlock()
	if stale {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

func (scheduler *Scheduler) performRefresh(ctx context.Context) {
	scheduler.mutex.Lock()
	current := scheduler.current
	scheduler.mutex.Unlock()
	if current == nil {
		return
	}
	if !scheduler.source.ActiveUser() {
		scheduler.logger.Debug("refresh skipped, no provider user in tab",
			zap.String("code", "refreshwatch.no_active_user"))
		return
	}
	assertion, assertionErr := scheduler.source.ForceRefresh(ctx)
	if assertionErr != nil {
		// Degraded until the next natural trigger; no automatic retry loop.
		scheduler.logger.Warn("assertion fetch failed",
			zap.String("code", "refreshwatch.assertion_failed"),
			zap.Error(assertionErr))
		return
	}
	refreshed, refreshErr := scheduler.api.Refresh(ctx, assertion, current.RefreshToken)
	if refreshErr != nil {
		scheduler.logger.Warn("refresh call failed",
			zap.String("code", "refreshwatch.refresh_failed"),
			zap.Error(refreshErr))
		return
	}

	scheduler.SetContext(refreshed)
	scheduler.mutex.Lock()
	scheduler.lastRefreshed = scheduler.clock.Now()
	scheduler.mutex.Unlock()

	// Siblings are notified only after the server acknowledged the rotation,
	// so no tab can observe the signal before the cookie write it refers to.
	scheduler.broadcaster.Publish()
}

func (scheduler *Scheduler) performReload(ctx context.Context) {
	// A sibling rotated the refresh token. Re-fetch the context read-only;
	// issuing a second refresh here would invalidate the sibling's token.
	reloaded, loadErr := scheduler.api.Load(ctx)
	if loadErr != nil {
		scheduler.logger.Warn("context reload failed",
			zap.String("code", "refreshwatch.reload_failed"),
			zap.Error(loadErr))
		return
	}
	scheduler.SetContext(reloaded)
}

func (scheduler *Scheduler) clearTimerLocked() {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()
	scheduler.armGeneration++
	if scheduler.timer != nil {
		scheduler.timer.Stop()
		scheduler.timer = nil
	}
}
