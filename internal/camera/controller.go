package camera

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/HerbHall/homewatch/internal/mjpeg"
	"github.com/HerbHall/homewatch/pkg/models"
	"go.uber.org/zap"
)

// SessionListener is told when a session ends; err is nil for a clean end.
type SessionListener func(sessionID string, err error)

// Controller owns the current stream session. Every open creates a new
// mjpeg.Stream; closed sessions are discarded.
type Controller struct {
	url    string
	opts   mjpeg.Options
	logger *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	current   *mjpeg.Stream
	listeners []SessionListener

	latest      atomic.Pointer[models.Frame]
	broadcaster *Broadcaster
}

// NewController creates a controller for the given stream URL.
func NewController(url string, opts mjpeg.Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		url:         url,
		opts:        opts,
		logger:      logger,
		base:        base,
		cancel:      cancel,
		broadcaster: NewBroadcaster(),
	}
}

// OnSessionEnd registers a listener for ended sessions.
func (c *Controller) OnSessionEnd(l SessionListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// OpenStream opens a new session unless one is alive. The session outlives
// ctx; it ends on CloseStream, Shutdown, or a transport error.
func (c *Controller) OpenStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Alive() {
		return nil
	}

	s := mjpeg.NewStream(c.url, c.opts, c.logger)
	s.OnFrame(c.handleFrame)
	id := s.ID()
	s.OnClose(func(err error) { c.sessionEnded(id, err) })
	if err := s.Open(c.base); err != nil {
		return err
	}
	c.current = s
	c.logger.Info("camera stream session opened", zap.String("session_id", id))
	return nil
}

// CloseStream closes the current session, if any.
func (c *Controller) CloseStream() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Alive reports whether a session is open.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.Alive()
}

// State returns the current session's state.
func (c *Controller) State() models.StreamState {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return models.StreamState{}
	}
	return s.State()
}

// LatestFrame returns the newest frame of the open session.
func (c *Controller) LatestFrame() (models.Frame, bool) {
	f := c.latest.Load()
	if f == nil {
		return models.Frame{}, false
	}
	return *f, true
}

// Frames returns the viewer fan-out.
func (c *Controller) Frames() *Broadcaster { return c.broadcaster }

// Shutdown closes the current session and prevents new ones from reading.
func (c *Controller) Shutdown() {
	c.CloseStream()
	c.cancel()
}

func (c *Controller) handleFrame(f models.Frame) {
	c.latest.Store(&f)
	c.broadcaster.Publish(f)
}

func (c *Controller) sessionEnded(id string, err error) {
	c.mu.Lock()
	if c.current != nil && c.current.ID() == id {
		c.latest.Store(nil)
	}
	listeners := make([]SessionListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(id, err)
	}
}
