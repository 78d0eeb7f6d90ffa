package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/homewatch/internal/fritzbox"
	"github.com/HerbHall/homewatch/internal/fritzbox/fritzboxtest"
	"github.com/HerbHall/homewatch/pkg/models"
	"go.uber.org/zap"
)

// fakeSession scripts Authenticate and Devices results.
type fakeSession struct {
	authCalls   atomic.Int32
	deviceCalls atomic.Int32
	authFn      func(ctx context.Context, attempt int) (string, error)
	devicesFn   func(ctx context.Context) ([]models.Client, error)
}

func (f *fakeSession) Authenticate(ctx context.Context, _ models.Credentials) (string, error) {
	n := int(f.authCalls.Add(1))
	if f.authFn == nil {
		return "sid", nil
	}
	return f.authFn(ctx, n)
}

func (f *fakeSession) Devices(ctx context.Context, _ string) ([]models.Client, error) {
	f.deviceCalls.Add(1)
	if f.devicesFn == nil {
		return []models.Client{{Name: "PhoneA", Active: true}}, nil
	}
	return f.devicesFn(ctx)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestPoller_BoundedRetry(t *testing.T) {
	session := &fakeSession{
		authFn: func(context.Context, int) (string, error) {
			return "", &fritzbox.AuthError{Kind: fritzbox.LoginRejected, Op: "login"}
		},
	}
	var backoffCalls []int
	p := NewPoller(session, PollerConfig{
		Interval:    time.Hour,
		MaxAttempts: 10,
		Backoff: func(attempt int) time.Duration {
			backoffCalls = append(backoffCalls, attempt)
			return time.Millisecond
		},
	}, zap.NewNop())

	p.Start(models.Credentials{Password: "wrong"})
	waitDone(t, p)

	if got := session.authCalls.Load(); got != 10 {
		t.Fatalf("authenticate calls = %d, want 10", got)
	}
	if !p.AuthFailed() {
		t.Errorf("AuthFailed() = false, want true (state %v)", p.State())
	}
	if len(backoffCalls) != 9 || backoffCalls[0] != 1 || backoffCalls[8] != 9 {
		t.Errorf("backoff attempts = %v, want 1..9", backoffCalls)
	}

	var authErr *fritzbox.AuthError
	if !errors.As(p.LastError(), &authErr) {
		t.Errorf("LastError() = %v, want wrapped *AuthError", p.LastError())
	}

	time.Sleep(20 * time.Millisecond)
	if got := session.authCalls.Load(); got != 10 {
		t.Errorf("authenticate calls after failure = %d, want still 10", got)
	}
	if session.deviceCalls.Load() != 0 {
		t.Error("device list must not be fetched without a session")
	}
}

func TestPoller_RecoversWithinBudget(t *testing.T) {
	session := &fakeSession{
		authFn: func(_ context.Context, attempt int) (string, error) {
			if attempt < 3 {
				return "", &fritzbox.AuthError{Kind: fritzbox.ChallengeUnavailable, Op: "challenge"}
			}
			return "sid", nil
		},
	}
	p := NewPoller(session, PollerConfig{Interval: time.Hour, Backoff: FixedBackoff(time.Millisecond)}, zap.NewNop())

	got := make(chan models.Snapshot, 1)
	p.OnSnapshot(func(s models.Snapshot) { got <- s })
	p.Start(models.Credentials{})
	defer p.Stop()

	select {
	case s := <-got:
		if s.Seq != 1 {
			t.Errorf("Seq = %d, want 1", s.Seq)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot published")
	}
	if session.authCalls.Load() != 3 {
		t.Errorf("authenticate calls = %d, want 3", session.authCalls.Load())
	}
	if p.State() != StatePolling {
		t.Errorf("State() = %v, want polling", p.State())
	}
}

func TestPoller_PollFailureIsPermanent(t *testing.T) {
	session := &fakeSession{
		devicesFn: func(context.Context) ([]models.Client, error) {
			return nil, &fritzbox.PollError{Status: 403, Err: errors.New("forbidden")}
		},
	}
	p := NewPoller(session, PollerConfig{Interval: 5 * time.Millisecond}, zap.NewNop())

	var published atomic.Int32
	p.OnSnapshot(func(models.Snapshot) { published.Add(1) })
	p.Start(models.Credentials{})
	waitDone(t, p)

	if !p.AuthFailed() {
		t.Fatalf("State() = %v, want auth_failed", p.State())
	}
	time.Sleep(30 * time.Millisecond)
	if session.deviceCalls.Load() != 1 {
		t.Errorf("device calls = %d, want exactly 1 (no poll retry)", session.deviceCalls.Load())
	}
	if session.authCalls.Load() != 1 {
		t.Errorf("authenticate calls = %d, want 1 (no re-login)", session.authCalls.Load())
	}
	if published.Load() != 0 {
		t.Error("no snapshot should be published on failure")
	}
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	session := &fakeSession{
		authFn: func(ctx context.Context, _ int) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	p := NewPoller(session, PollerConfig{}, zap.NewNop())

	if !p.Start(models.Credentials{}) {
		t.Fatal("first Start() = false, want true")
	}
	waitFor(t, func() bool { return session.authCalls.Load() == 1 }, 2*time.Second)
	if p.Start(models.Credentials{}) {
		t.Error("second Start() = true, want false while authenticating")
	}

	p.Stop()
	waitDone(t, p)
	if session.authCalls.Load() != 1 {
		t.Errorf("authenticate calls = %d, want 1", session.authCalls.Load())
	}
	if p.State() != StateIdle {
		t.Errorf("State() after Stop = %v, want idle", p.State())
	}
}

func TestPoller_StopAbortsInFlightPoll(t *testing.T) {
	router := fritzboxtest.New(t)
	release := router.BlockQueries()
	defer release()

	client, err := fritzbox.New(fritzbox.Config{Address: router.URL(), Timeout: time.Minute}, zap.NewNop())
	if err != nil {
		t.Fatalf("fritzbox.New() error = %v", err)
	}
	p := NewPoller(client, PollerConfig{Interval: time.Hour}, zap.NewNop())
	p.Start(models.Credentials{Password: router.Password})

	waitFor(t, func() bool { return router.Queries() == 1 }, 5*time.Second)
	start := time.Now()
	p.Stop()
	waitDone(t, p)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v to unblock the poll", elapsed)
	}
	if p.AuthFailed() {
		t.Error("cancelled poll must not enter permanent failure")
	}
	if _, ok := p.Snapshot(); ok {
		t.Error("no snapshot expected from an aborted poll")
	}
}

func TestPoller_ListenersInRegistrationOrder(t *testing.T) {
	router := fritzboxtest.New(t)
	router.SetDevices(models.Client{Name: "Laptop", Active: true})
	client, _ := fritzbox.New(fritzbox.Config{Address: router.URL()}, zap.NewNop())
	p := NewPoller(client, PollerConfig{Interval: 10 * time.Millisecond}, zap.NewNop())

	var mu sync.Mutex
	var calls []string
	var seqs []uint64
	p.OnSnapshot(func(s models.Snapshot) {
		mu.Lock()
		calls = append(calls, "first")
		seqs = append(seqs, s.Seq)
		mu.Unlock()
	})
	p.OnSnapshot(func(models.Snapshot) { panic("boom") })
	p.OnSnapshot(func(models.Snapshot) {
		mu.Lock()
		calls = append(calls, "third")
		mu.Unlock()
	})

	p.Start(models.Credentials{Password: router.Password})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) >= 3
	}, 5*time.Second)
	p.Stop()
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i+1 < len(calls); i += 2 {
		if calls[i] != "first" || calls[i+1] != "third" {
			t.Fatalf("calls = %v, want alternating first/third", calls)
		}
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("seqs = %v, want strictly increasing by one", seqs)
		}
	}
	snap, ok := p.Snapshot()
	if !ok || len(snap.Clients) != 1 || snap.Clients[0].Name != "Laptop" {
		t.Errorf("Snapshot() = %+v, %v", snap, ok)
	}
}

func TestPoller_RestartAfterFailure(t *testing.T) {
	router := fritzboxtest.New(t)
	router.RejectAll(true)
	client, _ := fritzbox.New(fritzbox.Config{Address: router.URL()}, zap.NewNop())
	p := NewPoller(client, PollerConfig{
		Interval:    time.Hour,
		MaxAttempts: 2,
		Backoff:     FixedBackoff(time.Millisecond),
	}, zap.NewNop())

	var transitions []State
	var mu sync.Mutex
	p.OnStateChange(func(_, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	p.Start(models.Credentials{Password: router.Password})
	waitDone(t, p)
	if !p.AuthFailed() {
		t.Fatalf("State() = %v, want auth_failed", p.State())
	}
	if router.LoginAttempts() != 2 {
		t.Errorf("login attempts = %d, want 2", router.LoginAttempts())
	}

	router.RejectAll(false)
	if !p.Start(models.Credentials{Password: router.Password}) {
		t.Fatal("Start() after permanent failure = false, want true")
	}
	waitFor(t, func() bool { _, ok := p.Snapshot(); return ok }, 5*time.Second)
	p.Stop()
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	sawFailed := false
	for _, s := range transitions {
		if s == StateAuthFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Errorf("transitions = %v, want auth_failed among them", transitions)
	}
}

func TestPoller_RestartWhileFailureIsBeingReported(t *testing.T) {
	session := &fakeSession{
		authFn: func(_ context.Context, attempt int) (string, error) {
			if attempt == 1 {
				return "", &fritzbox.AuthError{Kind: fritzbox.LoginRejected, Op: "login"}
			}
			return "sid", nil
		},
	}
	p := NewPoller(session, PollerConfig{Interval: time.Hour, MaxAttempts: 1}, zap.NewNop())

	release := make(chan struct{})
	p.OnStateChange(func(_, to State) {
		if to == StateAuthFailed {
			<-release
		}
	})
	got := make(chan models.Snapshot, 1)
	p.OnSnapshot(func(s models.Snapshot) { got <- s })

	p.Start(models.Credentials{})
	waitFor(t, p.AuthFailed, 2*time.Second)

	// The failure listener is still running on the old goroutine.
	if !p.Start(models.Credentials{}) {
		t.Fatal("Start() once auth_failed is visible = false, want true")
	}
	close(release)

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("restarted poller published no snapshot")
	}
	p.Stop()
	waitDone(t, p)
	if got := session.authCalls.Load(); got != 2 {
		t.Errorf("authenticate calls = %d, want 2", got)
	}
}

func TestPoller_StartRightAfterStop(t *testing.T) {
	session := &fakeSession{
		authFn: func(ctx context.Context, _ int) (string, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return "", ctx.Err()
		},
	}
	p := NewPoller(session, PollerConfig{}, zap.NewNop())

	p.Start(models.Credentials{})
	waitFor(t, func() bool { return session.authCalls.Load() == 1 }, 2*time.Second)
	p.Stop()
	if !p.Start(models.Credentials{}) {
		t.Fatal("Start() after Stop = false, want true")
	}
	waitFor(t, func() bool { return session.authCalls.Load() == 2 }, 2*time.Second)
	p.Stop()
	waitDone(t, p)
	if p.State() != StateIdle {
		t.Errorf("State() = %v, want idle", p.State())
	}
}

func TestPoller_StateChangesArriveInOrder(t *testing.T) {
	session := &fakeSession{
		authFn: func(context.Context, int) (string, error) {
			return "", errors.New("unreachable")
		},
	}

	for i := range 50 {
		p := NewPoller(session, PollerConfig{
			Interval:    time.Hour,
			MaxAttempts: 1 << 20,
			Backoff:     FixedBackoff(0),
		}, zap.NewNop())

		var mu sync.Mutex
		var changes [][2]State
		p.OnStateChange(func(from, to State) {
			mu.Lock()
			changes = append(changes, [2]State{from, to})
			mu.Unlock()
		})

		p.Start(models.Credentials{})
		time.Sleep(time.Duration(i%5) * time.Millisecond)
		p.Stop()
		waitDone(t, p)

		mu.Lock()
		prev := StateIdle
		for _, c := range changes {
			if c[0] != prev {
				mu.Unlock()
				t.Fatalf("run %d: changes = %v, %v follows %v", i, changes, c, prev)
			}
			prev = c[1]
		}
		mu.Unlock()
		if prev != StateIdle {
			t.Fatalf("run %d: last delivered state = %v, want idle", i, prev)
		}
	}
}

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff(2 * time.Second)
	for _, attempt := range []int{1, 5, 9} {
		if got := b(attempt); got != 2*time.Second {
			t.Errorf("FixedBackoff(2s)(%d) = %v", attempt, got)
		}
	}
}

func TestPollerConfig_Defaults(t *testing.T) {
	cfg := PollerConfig{}.withDefaults()
	if cfg.Interval != 30*time.Second || cfg.MaxAttempts != 10 || cfg.Backoff(1) != 2*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}
