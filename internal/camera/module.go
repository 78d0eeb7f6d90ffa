package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/homewatch/internal/mjpeg"
	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/HerbHall/homewatch/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
	_ roles.VideoSource    = (*Module)(nil)
)

// Module owns the camera stream controller and, when motion detection is
// enabled, the gate that opens and closes it.
type Module struct {
	logger      *zap.Logger
	cfg         Config
	bus         plugin.EventBus
	controller  *Controller
	gate        *Gate
	interaction *Interaction

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a new camera plugin instance.
func New() *Module {
	return &Module{interaction: &Interaction{}}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "camera",
		Version:     "0.1.0",
		Description: "MJPEG camera stream with motion-gated sessions",
		Roles:       []string{roles.RoleVideo},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.bus = deps.Bus
	m.cfg = loadConfig(deps.Config)

	m.controller = NewController(m.cfg.StreamURL, mjpeg.Options{
		ReadTimeout:   m.cfg.ReadTimeout,
		MaxFrameBytes: m.cfg.MaxFrameBytes,
		DecodeFrames:  m.cfg.DecodeFrames,
	}, m.logger.Named("stream"))
	m.controller.OnSessionEnd(m.handleSessionEnd)

	if m.cfg.Motion.Enabled {
		prober := NewHTTPProber(m.cfg.Motion.URL, m.cfg.Motion.Trigger.Offset, m.cfg.Motion.ProbeTimeout)
		m.gate = NewGate(GateConfig{
			Interval: m.cfg.Motion.Interval,
			Trigger:  m.cfg.Motion.Trigger.Byte,
		}, prober, m.controller, m.interaction.Interacting, m.logger.Named("gate"))
		m.gate.OnEvent(m.handleGateEvent)
	}

	m.logger.Info("camera module initialized",
		zap.Bool("motion_detection", m.cfg.Motion.Enabled),
		zap.Duration("read_timeout", m.cfg.ReadTimeout),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	if err := validURL(m.cfg.StreamURL); err != nil {
		return fmt.Errorf("camera: stream_url: %w", err)
	}
	if m.cfg.Motion.Enabled {
		if err := validURL(m.cfg.Motion.URL); err != nil {
			return fmt.Errorf("camera: motion_detection.url: %w", err)
		}
		if m.cfg.Motion.Trigger.Offset < 0 {
			return errors.New("camera: motion_detection.trigger_condition.character_offset must not be negative")
		}
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Start launches the motion gate, or opens the stream once when motion
// detection is disabled.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.gate == nil {
		if err := m.open(ctx, ReasonStartup); err != nil {
			return fmt.Errorf("camera: open stream: %w", err)
		}
		m.logger.Info("camera module started (motion detection disabled)")
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.gate.Run(ctx)
	}()
	m.logger.Info("camera module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.gate != nil {
		m.gate.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("camera: wait for gate: %w", ctx.Err())
	}

	if m.controller != nil {
		m.controller.Shutdown()
	}
	m.logger.Info("camera module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.controller == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not initialized"}
	}
	st := m.controller.State()
	details := map[string]string{
		"alive":            strconv.FormatBool(st.Alive),
		"loading":          strconv.FormatBool(st.Loading),
		"frames":           strconv.FormatUint(st.Frames, 10),
		"viewers":          strconv.Itoa(m.interaction.Viewers()),
		"motion_detection": strconv.FormatBool(m.gate != nil),
	}
	if !st.LastFrameAt.IsZero() {
		details["last_frame"] = st.LastFrameAt.Format(time.RFC3339)
	}

	// Without a gate the stream is expected to be up; with one, a closed
	// stream just means no motion.
	if m.gate == nil && !st.Alive {
		return plugin.HealthStatus{Status: "degraded", Message: "stream closed", Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

// StreamState implements roles.VideoSource.
func (m *Module) StreamState() models.StreamState {
	if m.controller == nil {
		return models.StreamState{}
	}
	return m.controller.State()
}

// LatestFrame implements roles.VideoSource.
func (m *Module) LatestFrame() (models.Frame, bool) {
	if m.controller == nil {
		return models.Frame{}, false
	}
	return m.controller.LatestFrame()
}

// open opens a session and publishes TopicStreamOpened with reason.
func (m *Module) open(ctx context.Context, reason string) error {
	wasAlive := m.controller.Alive()
	if err := m.controller.OpenStream(ctx); err != nil {
		return err
	}
	if !wasAlive {
		m.publish(TopicStreamOpened, StreamEvent{
			SessionID: m.controller.State().SessionID,
			Reason:    reason,
			At:        time.Now(),
		})
	}
	return nil
}

func (m *Module) handleGateEvent(ev GateEvent) {
	switch ev.Kind {
	case GateMotion:
		m.publish(TopicMotion, MotionEvent{StreamAlive: m.controller.Alive(), At: ev.At})
	case GateOpened:
		m.publish(TopicStreamOpened, StreamEvent{
			SessionID: m.controller.State().SessionID,
			Reason:    ReasonMotion,
			At:        ev.At,
		})
	case GateClosed:
		m.logger.Debug("gate closed stream", zap.Time("at", ev.At))
	}
}

// handleSessionEnd runs on the stream goroutine when a session ends for
// any reason. err is nil for a requested close or a clean end of stream.
func (m *Module) handleSessionEnd(sessionID string, err error) {
	ev := StreamEvent{SessionID: sessionID, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	m.publish(TopicStreamClosed, ev)
}

func (m *Module) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), plugin.Event{
		Topic:     topic,
		Source:    "camera",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
