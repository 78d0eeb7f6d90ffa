package mjpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register the JPEG decoder for DecodeConfig
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/homewatch/internal/metrics"
	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBufferSize is the read buffer used for the stream body.
const DefaultBufferSize = 8192

var (
	// ErrStreamClosed is returned by Open on a session that was already
	// opened or closed. Sessions are single use.
	ErrStreamClosed = errors.New("mjpeg: stream session already used")
	// ErrReadTimeout is wrapped in StreamTransportError when no bytes
	// arrive within Options.ReadTimeout.
	ErrReadTimeout = errors.New("mjpeg: read timeout")
)

// StreamTransportError ends a session on any failure other than a clean
// end of stream or an explicit Close.
type StreamTransportError struct {
	SessionID string
	Err       error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("mjpeg: stream %s: %v", e.SessionID, e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// FrameListener receives each decoded frame on the session's read goroutine.
type FrameListener func(models.Frame)

// CloseListener receives the terminal error of a session; nil means the
// peer ended the stream or Close was called.
type CloseListener func(err error)

// Options configures a stream session.
type Options struct {
	// ReadTimeout aborts the session when no bytes arrive for this long.
	// Only time spent waiting on the connection counts; frame listeners
	// running in between do not. Zero disables the idle check.
	ReadTimeout time.Duration
	// MaxFrameBytes drops frames larger than this. Zero means unlimited.
	MaxFrameBytes int
	// BufferSize is the body read buffer. Zero means DefaultBufferSize.
	BufferSize int
	// DecodeFrames validates every frame's JPEG header, dropping frames
	// that do not decode and recording the image size.
	DecodeFrames bool
	// Client performs the request. It must not set an overall Timeout.
	Client *http.Client
}

// Stream is one MJPEG session: a single GET whose body is decoded until the
// peer ends it, a transport error occurs, or Close is called. A closed
// session is never reopened; create a new Stream instead.
type Stream struct {
	id     string
	url    string
	opts   Options
	logger *zap.Logger

	alive     atomic.Bool
	loading   atomic.Bool
	lastFrame atomic.Int64
	openedAt  atomic.Int64
	frames    atomic.Uint64

	mu             sync.Mutex
	used           bool
	closed         bool
	cancel         context.CancelFunc
	body           io.ReadCloser
	done           chan struct{}
	frameListeners []FrameListener
	closeListeners []CloseListener
}

// NewStream creates an unopened session for url.
func NewStream(url string, opts Options, logger *zap.Logger) *Stream {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Stream{
		id:     id,
		url:    url,
		opts:   opts,
		logger: logger.With(zap.String("session_id", id)),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Stream) ID() string { return s.id }

// OnFrame registers a frame listener. Listeners run in registration order.
func (s *Stream) OnFrame(l FrameListener) {
	s.mu.Lock()
	s.frameListeners = append(s.frameListeners, l)
	s.mu.Unlock()
}

// OnClose registers a listener for the end of the session.
func (s *Stream) OnClose(l CloseListener) {
	s.mu.Lock()
	s.closeListeners = append(s.closeListeners, l)
	s.mu.Unlock()
}

// Open starts reading in the background. The session is alive and loading
// until the first frame arrives.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used || s.closed {
		return ErrStreamClosed
	}
	s.used = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.alive.Store(true)
	s.loading.Store(true)
	s.openedAt.Store(time.Now().UnixNano())
	metrics.CameraStreamSessions.Inc()
	metrics.CameraStreamAlive.Set(1)

	go s.run(ctx)
	return nil
}

// Close ends the session. A blocked read returns promptly. Safe to call
// repeatedly and concurrently; it does not wait for the read goroutine.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.alive.Store(false)
	cancel, body, used := s.cancel, s.body, s.used
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		body.Close()
	}
	if !used {
		close(s.done)
	}
	metrics.CameraStreamAlive.Set(0)
}

// Done is closed once the read goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Alive reports whether the session is open.
func (s *Stream) Alive() bool { return s.alive.Load() }

// Loading reports whether the session is open but no frame arrived yet.
func (s *Stream) Loading() bool { return s.alive.Load() && s.loading.Load() }

// State returns a point-in-time view of the session.
func (s *Stream) State() models.StreamState {
	st := models.StreamState{
		SessionID: s.id,
		Alive:     s.Alive(),
		Loading:   s.Loading(),
		Frames:    s.frames.Load(),
	}
	if ns := s.openedAt.Load(); ns != 0 {
		st.OpenedAt = time.Unix(0, ns)
	}
	if ns := s.lastFrame.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	return st
}

func (s *Stream) run(ctx context.Context) {
	err := s.read(ctx)

	s.mu.Lock()
	closedByCaller := s.closed
	s.closed = true
	s.alive.Store(false)
	cancel := s.cancel
	listeners := make([]CloseListener, len(s.closeListeners))
	copy(listeners, s.closeListeners)
	s.mu.Unlock()
	cancel()
	metrics.CameraStreamAlive.Set(0)

	if closedByCaller && !errors.Is(err, ErrReadTimeout) {
		err = nil
	}
	if err != nil {
		s.logger.Warn("camera stream ended with error", zap.Error(err))
	} else {
		s.logger.Info("camera stream ended", zap.Uint64("frames", s.frames.Load()))
	}
	for _, l := range listeners {
		l(err)
	}
	close(s.done)
}

// read performs the request and decodes the body until it ends. Clean EOF
// and cancellation return nil.
func (s *Stream) read(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return &StreamTransportError{SessionID: s.id, Err: err}
	}
	resp, err := s.opts.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &StreamTransportError{SessionID: s.id, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StreamTransportError{SessionID: s.id, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.body = resp.Body
	s.mu.Unlock()

	var timedOut atomic.Bool
	var idle *time.Timer
	if s.opts.ReadTimeout > 0 {
		idle = time.AfterFunc(s.opts.ReadTimeout, func() {
			timedOut.Store(true)
			resp.Body.Close()
		})
		defer idle.Stop()
	}

	dec := NewDecoder(s.opts.MaxFrameBytes)
	dec.OnDiscard = func(reason string, _ int) {
		metrics.CameraFramesDiscarded.WithLabelValues(reason).Inc()
	}
	r := bufio.NewReaderSize(resp.Body, s.opts.BufferSize)
	buf := make([]byte, s.opts.BufferSize)
	for {
		n, err := r.Read(buf)
		if idle != nil {
			idle.Stop()
		}
		if n > 0 {
			dec.Feed(buf[:n], s.emit)
		}
		if err != nil {
			switch {
			case timedOut.Load():
				return &StreamTransportError{SessionID: s.id, Err: ErrReadTimeout}
			case errors.Is(err, io.EOF), ctx.Err() != nil:
				return nil
			default:
				return &StreamTransportError{SessionID: s.id, Err: err}
			}
		}
		if !s.alive.Load() {
			return nil
		}
		if idle != nil {
			idle.Reset(s.opts.ReadTimeout)
		}
	}
}

func (s *Stream) emit(data []byte) {
	if !s.alive.Load() {
		return
	}
	frame := models.Frame{
		SessionID:  s.id,
		ReceivedAt: time.Now(),
		Data:       data,
	}
	if s.opts.DecodeFrames {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			metrics.CameraFramesDiscarded.WithLabelValues("invalid").Inc()
			s.logger.Debug("dropping undecodable frame", zap.Int("bytes", len(data)), zap.Error(err))
			return
		}
		frame.Width, frame.Height = cfg.Width, cfg.Height
	}

	frame.Seq = s.frames.Add(1)
	s.lastFrame.Store(frame.ReceivedAt.UnixNano())
	s.loading.Store(false)
	metrics.CameraFrames.Inc()

	s.mu.Lock()
	listeners := make([]FrameListener, len(s.frameListeners))
	copy(listeners, s.frameListeners)
	s.mu.Unlock()

	for _, l := range listeners {
		s.safeCall(l, frame)
	}
}

func (s *Stream) safeCall(l FrameListener, f models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("frame listener panicked", zap.Uint64("seq", f.Seq), zap.Any("panic", r))
		}
	}()
	l(f)
}
