// Package webhook POSTs presence changes and motion-triggered stream opens
// to a configured URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/homewatch/internal/camera"
	"github.com/HerbHall/homewatch/internal/router"
	"github.com/HerbHall/homewatch/internal/version"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/HerbHall/homewatch/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// queueSize bounds deliveries waiting for the sender goroutine.
const queueSize = 64

// Config holds the webhook plugin configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	Enabled bool
}

type delivery struct {
	topic string
	body  []byte
}

// Module implements the Webhook notifier plugin. Bus handlers only enqueue;
// a single goroutine delivers in publish order so a slow endpoint never
// stalls the router poll or the motion gate.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client

	qmu    sync.Mutex
	queue  chan delivery
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures int
	lastErr  string
}

// New creates a new Webhook plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "webhook",
		Version:     "0.1.0",
		Description: "Sends HTTP POST notifications on presence changes and motion",
		Roles:       []string{roles.RoleNotification},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = Config{
		Timeout: 10 * time.Second,
		Enabled: true,
	}
	if deps.Config != nil {
		if u := deps.Config.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("enabled") {
			m.cfg.Enabled = deps.Config.GetBool("enabled")
		}
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}
	m.queue = make(chan delivery, queueSize)

	if m.cfg.URL == "" {
		m.logger.Warn("webhook URL not configured; notifications will be dropped")
	}

	m.logger.Info("webhook module initialized",
		zap.String("url", m.cfg.URL),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Bool("enabled", m.cfg.Enabled),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
	m.logger.Info("webhook module started")
	return nil
}

// Stop delivers what is already queued until ctx expires, then gives up.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	m.qmu.Lock()
	m.closed = true
	close(m.queue)
	m.qmu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		m.cancel()
		<-done
	}
	m.cancel()
	m.cancel = nil
	m.logger.Info("webhook module stopped")
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: router.TopicPresence, Handler: m.handlePresence},
		{Topic: camera.TopicStreamOpened, Handler: m.handleStreamOpened},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return plugin.HealthStatus{Status: "healthy", Message: "no webhook configured"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "last delivery failed: " + m.lastErr,
		}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// WebhookPayload is the JSON body sent to the webhook URL.
type WebhookPayload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// handlePresence notifies only when at least one nickname changed state.
func (m *Module) handlePresence(ctx context.Context, event plugin.Event) {
	ev, ok := event.Payload.(router.PresenceEvent)
	if !ok || len(ev.Changed) == 0 {
		return
	}
	m.handleEvent(ctx, event)
}

// handleStreamOpened notifies for motion-triggered opens only.
func (m *Module) handleStreamOpened(ctx context.Context, event plugin.Event) {
	ev, ok := event.Payload.(camera.StreamEvent)
	if !ok || ev.Reason != camera.ReasonMotion {
		return
	}
	m.handleEvent(ctx, event)
}

func (m *Module) handleEvent(_ context.Context, event plugin.Event) {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return
	}

	payload := WebhookPayload{
		Event:     event.Topic,
		Source:    event.Source,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Data:      event.Payload,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to marshal webhook payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}

	m.enqueue(delivery{topic: event.Topic, body: body})
}

func (m *Module) enqueue(d delivery) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.closed {
		m.logger.Debug("webhook dropped after stop", zap.String("topic", d.topic))
		return
	}
	select {
	case m.queue <- d:
	default:
		m.logger.Warn("webhook queue full, dropping notification", zap.String("topic", d.topic))
	}
}

func (m *Module) run(ctx context.Context) {
	defer m.wg.Done()
	for d := range m.queue {
		m.send(ctx, d.body, d.topic)
	}
}

func (m *Module) send(ctx context.Context, body []byte, topic string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Homewatch-Webhook/"+version.Short())

	resp, err := m.client.Do(req)
	if err != nil {
		m.recordFailure(err.Error())
		m.logger.Warn("webhook delivery failed",
			zap.String("url", m.cfg.URL),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.recordFailure(resp.Status)
		m.logger.Warn("webhook endpoint returned error",
			zap.String("url", m.cfg.URL),
			zap.String("topic", topic),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
	m.logger.Debug("webhook delivered",
		zap.String("topic", topic),
		zap.Int("status_code", resp.StatusCode),
	)
}

func (m *Module) recordFailure(msg string) {
	m.mu.Lock()
	m.failures++
	m.lastErr = msg
	m.mu.Unlock()
}
