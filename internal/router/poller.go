// Package router keeps an authenticated session with the home router and
// publishes device snapshots on a fixed interval.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/homewatch/internal/fritzbox"
	"github.com/HerbHall/homewatch/internal/metrics"
	"github.com/HerbHall/homewatch/pkg/models"
	"go.uber.org/zap"
)

// Session is the router API the poller drives. *fritzbox.Client implements it.
type Session interface {
	fritzbox.Authenticator
	Devices(ctx context.Context, sid string) ([]models.Client, error)
}

// State is the poller's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateRetrying
	StatePolling
	// StateAuthFailed is permanent until the caller starts the poller again.
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateRetrying:
		return "retrying"
	case StatePolling:
		return "polling"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// BackoffPolicy returns the delay before the next login attempt, given the
// number of attempts made so far (starting at 1).
type BackoffPolicy func(attempt int) time.Duration

// FixedBackoff waits the same delay between every attempt.
func FixedBackoff(d time.Duration) BackoffPolicy {
	return func(int) time.Duration { return d }
}

// SnapshotListener receives every snapshot published after it registered.
type SnapshotListener func(models.Snapshot)

// StateListener is notified after every state transition. Transitions are
// delivered one at a time in the order they happened, possibly from a
// goroutine other than the one that caused them.
type StateListener func(from, to State)

type stateChange struct{ from, to State }

// PollerConfig controls timing and retry behavior.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Backoff     BackoffPolicy
}

// Defaults for PollerConfig fields left zero.
const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxAttempts = 10
	DefaultBackoff     = 2 * time.Second
)

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = FixedBackoff(DefaultBackoff)
	}
	return c
}

// Poller authenticates against the router, then polls the device list at a
// fixed rate. It is the only writer of the current snapshot and state.
type Poller struct {
	session Session
	cfg     PollerConfig
	logger  *zap.Logger
	nowFunc func() time.Time

	mu             sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
	lastErr        error
	listeners      []SnapshotListener
	stateListeners []StateListener
	pending        []stateChange
	notifying      bool

	state    atomic.Int32
	snapshot atomic.Pointer[models.Snapshot]
	seq      atomic.Uint64
}

// NewPoller creates an idle poller.
func NewPoller(session Session, cfg PollerConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		session: session,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// OnSnapshot registers a listener. Listeners run synchronously on the poll
// goroutine in registration order and never see snapshots published before
// they registered.
func (p *Poller) OnSnapshot(l SnapshotListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// OnStateChange registers a state transition listener.
func (p *Poller) OnStateChange(l StateListener) {
	p.mu.Lock()
	p.stateListeners = append(p.stateListeners, l)
	p.mu.Unlock()
}

// Start begins authenticating in the background and returns immediately.
// It reports false and does nothing while a previous start is still
// authenticating, retrying or polling. Once the poller is idle or has failed
// permanently, Start begins again with a fresh attempt budget, even if the
// previous goroutine has not finished unwinding; the new one waits for it.
func (p *Poller) Start(creds models.Credentials) bool {
	p.mu.Lock()
	if st := p.State(); st != StateIdle && st != StateAuthFailed {
		p.mu.Unlock()
		return false
	}

	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev, done := p.done, make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.lastErr = nil
	p.swapStateLocked(StateAuthenticating)
	p.mu.Unlock()

	p.flushState()

	go p.run(ctx, prev, done, creds)
	return true
}

// Stop cancels the background task. In-flight requests are aborted and not
// awaited; use Wait to block until the goroutine has exited.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.cancel = nil
	p.swapStateLocked(StateIdle)
	p.mu.Unlock()

	p.flushState()
}

// Wait blocks until the background goroutine started by the last Start,
// and any it replaced, has exited or ctx is done.
func (p *Poller) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// AuthFailed reports whether the poller gave up and needs an explicit restart.
func (p *Poller) AuthFailed() bool {
	return p.State() == StateAuthFailed
}

// Snapshot returns the most recent snapshot, if any poll has succeeded.
func (p *Poller) Snapshot() (models.Snapshot, bool) {
	s := p.snapshot.Load()
	if s == nil {
		return models.Snapshot{}, false
	}
	return *s, true
}

// LastError returns the error that caused the last failed attempt or the
// permanent failure.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) run(ctx context.Context, prev <-chan struct{}, done chan struct{}, creds models.Credentials) {
	defer close(done)

	// The previous goroutine is already cancelled; it may still be inside
	// a listener. Only one goroutine publishes at a time.
	if prev != nil {
		<-prev
	}

	sid, err := p.authenticate(ctx, creds)
	if err != nil {
		if ctx.Err() == nil {
			p.fail(ctx, err)
		}
		return
	}

	p.transition(ctx, StatePolling)
	p.pollLoop(ctx, sid)
}

// authenticate runs up to MaxAttempts logins, waiting the backoff between
// attempts.
func (p *Poller) authenticate(ctx context.Context, creds models.Credentials) (string, error) {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		p.transition(ctx, StateAuthenticating)
		sid, err := p.session.Authenticate(ctx, creds)
		if err == nil {
			metrics.RouterAuthAttempts.WithLabelValues("success").Inc()
			p.logger.Info("router session established", zap.Int("attempt", attempt))
			return sid, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		metrics.RouterAuthAttempts.WithLabelValues("failure").Inc()
		p.setLastErr(err)
		if attempt >= p.cfg.MaxAttempts {
			return "", fmt.Errorf("router: login failed after %d attempts: %w", attempt, err)
		}

		delay := p.cfg.Backoff(attempt)
		p.logger.Warn("router login failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		p.transition(ctx, StateRetrying)

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// pollLoop polls immediately, then on every tick. Ticks missed while a
// poll is running are dropped, so polls never overlap.
func (p *Poller) pollLoop(ctx context.Context, sid string) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if !p.poll(ctx, sid) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.poll(ctx, sid) {
				return
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context, sid string) bool {
	devices, err := p.session.Devices(ctx, sid)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		metrics.RouterPolls.WithLabelValues("failure").Inc()
		p.fail(ctx, fmt.Errorf("router: poll: %w", err))
		return false
	}
	metrics.RouterPolls.WithLabelValues("success").Inc()

	snap := models.NewSnapshot(p.seq.Add(1), p.nowFunc(), devices)
	p.snapshot.Store(&snap)
	recordClients(snap)

	p.mu.Lock()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		p.safeCall(l, snap)
	}
	return true
}

func (p *Poller) safeCall(l SnapshotListener, snap models.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("snapshot listener panicked",
				zap.Uint64("seq", snap.Seq),
				zap.Any("panic", r),
			)
		}
	}()
	l(snap)
}

func (p *Poller) fail(ctx context.Context, err error) {
	p.setLastErr(err)
	p.logger.Error("router session failed permanently", zap.Error(err))
	p.transition(ctx, StateAuthFailed)
}

func (p *Poller) setLastErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// transition moves to state s unless ctx was cancelled by Stop, in which
// case Stop or a restart already owns the state.
func (p *Poller) transition(ctx context.Context, s State) {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.swapStateLocked(s)
	p.mu.Unlock()

	p.flushState()
}

// swapStateLocked sets the state and queues the change for listeners. Must
// be called with p.mu held.
func (p *Poller) swapStateLocked(s State) {
	from := State(p.state.Swap(int32(s)))
	if from == s {
		return
	}
	p.pending = append(p.pending, stateChange{from: from, to: s})
	if s == StateAuthFailed {
		metrics.RouterAuthFailed.Set(1)
	} else if from == StateAuthFailed {
		metrics.RouterAuthFailed.Set(0)
	}
}

// flushState delivers queued state changes. If another goroutine is already
// delivering, it picks up ours as well and flushState returns at once, so a
// slow listener never blocks Start or Stop.
func (p *Poller) flushState() {
	p.mu.Lock()
	if p.notifying {
		p.mu.Unlock()
		return
	}
	p.notifying = true
	for len(p.pending) > 0 {
		c := p.pending[0]
		p.pending = p.pending[1:]
		listeners := slices.Clone(p.stateListeners)
		p.mu.Unlock()

		for _, l := range listeners {
			p.safeNotify(l, c)
		}
		p.mu.Lock()
	}
	p.notifying = false
	p.mu.Unlock()
}

func (p *Poller) safeNotify(l StateListener, c stateChange) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("state listener panicked",
				zap.Stringer("from", c.from),
				zap.Stringer("to", c.to),
				zap.Any("panic", r),
			)
		}
	}()
	l(c.from, c.to)
}

func recordClients(snap models.Snapshot) {
	var active, inactive int
	for _, c := range snap.Clients {
		if c.Active {
			active++
		} else {
			inactive++
		}
	}
	metrics.RouterClients.WithLabelValues("true").Set(float64(active))
	metrics.RouterClients.WithLabelValues("false").Set(float64(inactive))
}

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = errors.New("router: not authenticated")
