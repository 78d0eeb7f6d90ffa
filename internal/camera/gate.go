// Package camera drives the IP camera: a motion gate that polls the
// camera's status document and opens or closes the MJPEG stream, plus the
// HTTP surface that serves frames to viewers.
package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/homewatch/internal/metrics"
	"github.com/HerbHall/homewatch/pkg/models"
	"go.uber.org/zap"
)

// Cooldown is how long after the last motion-triggered open the stream
// stays up once the signal clears.
const Cooldown = 60 * time.Second

// StreamController opens and closes stream sessions for the gate.
type StreamController interface {
	Alive() bool
	OpenStream(ctx context.Context) error
	CloseStream()
}

// GateConfig configures the motion gate.
type GateConfig struct {
	Interval time.Duration
	Trigger  byte
}

// GateEventKind classifies gate decisions.
type GateEventKind string

const (
	GateMotion GateEventKind = "motion"
	GateOpened GateEventKind = "opened"
	GateClosed GateEventKind = "closed"
)

// GateEvent is emitted for every matching probe and every open or close.
type GateEvent struct {
	Kind GateEventKind
	At   time.Time
}

// Gate polls the motion probe on a fixed interval and applies the
// open/close decision with a cooldown.
type Gate struct {
	cfg         GateConfig
	prober      Prober
	streams     StreamController
	interacting func() bool
	logger      *zap.Logger
	nowFunc     func() time.Time

	lastActivity atomic.Int64
	lastProbe    atomic.Int64
	lastMatch    atomic.Bool

	mu        sync.Mutex
	listeners []func(GateEvent)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewGate creates a gate. interacting may be nil when no interaction
// source exists.
func NewGate(cfg GateConfig, prober Prober, streams StreamController, interacting func() bool, logger *zap.Logger) *Gate {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if interacting == nil {
		interacting = func() bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:         cfg,
		prober:      prober,
		streams:     streams,
		interacting: interacting,
		logger:      logger,
		nowFunc:     time.Now,
		stopCh:      make(chan struct{}),
	}
}

// OnEvent registers a listener for gate decisions. Listeners run on the
// gate goroutine.
func (g *Gate) OnEvent(l func(GateEvent)) {
	g.mu.Lock()
	g.listeners = append(g.listeners, l)
	g.mu.Unlock()
}

// Run ticks until ctx is cancelled or Stop is called. The first probe
// happens one interval after Run starts.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	g.logger.Info("motion gate started",
		zap.Duration("interval", g.cfg.Interval),
		zap.Uint8("trigger", g.cfg.Trigger),
	)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("motion gate stopped (context cancelled)")
			return
		case <-g.stopCh:
			g.logger.Info("motion gate stopped")
			return
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Stop signals Run to exit.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
}

// Tick runs one probe and applies the decision:
//
//	signal matches, stream down            -> open, record activity
//	no match, stream up, cooldown elapsed,
//	and nobody interacting                 -> close
//
// A match while the stream is up does not extend the cooldown.
func (g *Gate) Tick(ctx context.Context) {
	b, err := g.prober.Probe(ctx)
	if err != nil {
		if errors.Is(err, ErrShortProbe) {
			metrics.MotionProbes.WithLabelValues("short").Inc()
			return
		}
		if ctx.Err() == nil {
			metrics.MotionProbes.WithLabelValues("error").Inc()
			g.logger.Warn("motion probe failed", zap.Error(err))
		}
		return
	}

	now := g.nowFunc()
	g.lastProbe.Store(now.UnixNano())
	match := b == g.cfg.Trigger
	g.lastMatch.Store(match)
	alive := g.streams.Alive()

	if match {
		metrics.MotionProbes.WithLabelValues("match").Inc()
		g.emit(GateEvent{Kind: GateMotion, At: now})
	} else {
		metrics.MotionProbes.WithLabelValues("clear").Inc()
	}

	switch {
	case match && !alive:
		g.lastActivity.Store(now.UnixNano())
		if err := g.streams.OpenStream(ctx); err != nil {
			g.logger.Error("failed to open camera stream", zap.Error(err))
			return
		}
		g.logger.Info("motion detected, stream opened")
		g.emit(GateEvent{Kind: GateOpened, At: now})

	case !match && alive && now.Sub(g.LastActivity()) > Cooldown && !g.interacting():
		g.streams.CloseStream()
		g.logger.Info("motion cleared, stream closed",
			zap.Duration("since_activity", now.Sub(g.LastActivity())),
		)
		g.emit(GateEvent{Kind: GateClosed, At: now})
	}
}

// MarkActivity records user-driven activity, such as a manual open.
func (g *Gate) MarkActivity() {
	g.lastActivity.Store(g.nowFunc().UnixNano())
}

// LastActivity returns the time of the last motion-triggered open.
func (g *Gate) LastActivity() time.Time {
	return unixNano(g.lastActivity.Load())
}

// State returns the gate's view for status reporting.
func (g *Gate) State() models.MotionState {
	return models.MotionState{
		Enabled:      true,
		LastProbeAt:  unixNano(g.lastProbe.Load()),
		LastMatch:    g.lastMatch.Load(),
		LastActivity: g.LastActivity(),
		Interacting:  g.interacting(),
	}
}

func (g *Gate) emit(ev GateEvent) {
	g.mu.Lock()
	listeners := make([]func(GateEvent), len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
