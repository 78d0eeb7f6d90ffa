package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/homewatch/internal/config"
	"github.com/HerbHall/homewatch/internal/fritzbox"
	"github.com/HerbHall/homewatch/internal/presence"
	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/HerbHall/homewatch/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
	_ roles.PresenceProvider = (*Module)(nil)
)

// Module keeps an authenticated polling session against the router and
// republishes device snapshots and resolved presence on the event bus.
type Module struct {
	logger *zap.Logger
	cfg    Config
	bus    plugin.EventBus
	client *fritzbox.Client
	poller *Poller
	filter *presence.Filter
	pinger pingFunc

	mu         sync.Mutex
	report     models.PresenceReport
	hasReport  bool
	lastChange time.Time
}

// New creates a new router plugin instance.
func New() *Module {
	return &Module{pinger: pingHost}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "router",
		Version:     "0.1.0",
		Description: "FRITZ!Box session, device polling and presence filter",
		Roles:       []string{roles.RolePresence},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.bus = deps.Bus

	cfg, err := loadConfig(deps.Config)
	if err != nil {
		return fmt.Errorf("router: load config: %w", err)
	}
	m.cfg = cfg

	client, err := fritzbox.New(fritzbox.Config{
		Address: cfg.Address,
		Timeout: cfg.RequestTimeout,
	}, m.logger.Named("fritzbox"))
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	m.client = client
	m.filter = presence.NewFilter(cfg.Filter)

	m.poller = NewPoller(client, PollerConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.MaxAuthAttempts,
		Backoff:     FixedBackoff(cfg.AuthBackoff),
	}, m.logger.Named("poller"))
	m.poller.OnSnapshot(m.handleSnapshot)
	m.poller.OnStateChange(m.handleStateChange)

	m.logger.Info("router module initialized",
		zap.String("host", client.Host()),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("filter_rules", len(m.filter.Rules())),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	if m.cfg.MaxAuthAttempts < 1 {
		return errors.New("router: max_auth_attempts must be at least 1")
	}
	if m.cfg.PollInterval < time.Second {
		return fmt.Errorf("router: poll_interval %s is below 1s", m.cfg.PollInterval)
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.poller.Start(m.credentials())
	m.logger.Info("router module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.poller == nil {
		return nil
	}
	m.poller.Stop()
	if err := m.poller.Wait(ctx); err != nil {
		return fmt.Errorf("router: wait for poller: %w", err)
	}
	m.logger.Info("router module stopped")
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: config.TopicReloaded, Handler: m.handleConfigReload},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.poller == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not initialized"}
	}
	state := m.poller.State()
	details := map[string]string{
		"state":        state.String(),
		"filter_rules": strconv.Itoa(len(m.filter.Rules())),
	}
	if snap, ok := m.poller.Snapshot(); ok {
		details["last_snapshot"] = snap.TakenAt.Format(time.RFC3339)
		details["clients"] = strconv.Itoa(len(snap.Clients))
	}

	status := plugin.HealthStatus{Status: "healthy", Details: details}
	switch state {
	case StateAuthFailed:
		status.Status = "unhealthy"
		if err := m.poller.LastError(); err != nil {
			status.Message = err.Error()
		}
		return status
	case StateIdle, StateAuthenticating, StateRetrying:
		status.Status = "degraded"
	}

	if m.cfg.PingCheck {
		if rtt, ok := m.pinger(ctx, m.client.Host()); ok {
			details["ping_rtt"] = rtt.String()
		} else {
			details["ping_rtt"] = "unreachable"
			status.Status = "degraded"
		}
	}
	return status
}

// Reconnect restarts the poller with a fresh attempt budget. It reports
// false when a session is still active.
func (m *Module) Reconnect() bool {
	return m.poller.Start(m.credentials())
}

// Presence returns the latest presence report.
func (m *Module) Presence() (models.PresenceReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report, m.hasReport
}

func (m *Module) credentials() models.Credentials {
	return models.Credentials{Username: m.cfg.Username, Password: m.cfg.Password}
}

// handleSnapshot runs on the poll goroutine for every snapshot.
func (m *Module) handleSnapshot(snap models.Snapshot) {
	m.publish(TopicSnapshot, snap)
	m.resolve(snap)
}

func (m *Module) resolve(snap models.Snapshot) {
	report := m.filter.Resolve(snap)

	m.mu.Lock()
	prev := m.report
	m.report = report
	m.hasReport = true
	changed := report.Changed(prev)
	if len(changed) > 0 {
		m.lastChange = snap.TakenAt
	}
	m.mu.Unlock()

	for _, p := range changed {
		m.logger.Info("presence changed",
			zap.String("nickname", p.Nickname),
			zap.Bool("active", p.Active),
		)
	}
	m.publish(TopicPresence, PresenceEvent{
		Report:  report,
		Changed: changed,
		Message: presence.Message(report),
	})
}

func (m *Module) handleStateChange(from, to State) {
	ev := StatusEvent{
		From:       from.String(),
		To:         to.String(),
		AuthFailed: to == StateAuthFailed,
		At:         time.Now(),
	}
	if to == StateAuthFailed {
		if err := m.poller.LastError(); err != nil {
			ev.Error = err.Error()
		}
		m.logger.Warn("router session failed permanently; POST /api/v1/router/reconnect to retry",
			zap.String("error", ev.Error),
		)
	}
	m.publish(TopicStatus, ev)
}

// handleConfigReload swaps the filter rules and re-resolves the latest
// snapshot so subscribers see the new nicknames without waiting a poll.
func (m *Module) handleConfigReload(_ context.Context, event plugin.Event) {
	root, ok := event.Payload.(plugin.Config)
	if !ok || m.filter == nil {
		return
	}
	rules, err := loadFilter(root.Sub("plugins.router"))
	if err != nil {
		m.logger.Warn("ignoring invalid filter config", zap.Error(err))
		return
	}
	m.filter.SetRules(rules)
	m.logger.Info("presence filter reloaded", zap.Int("rules", len(m.filter.Rules())))

	if snap, ok := m.poller.Snapshot(); ok {
		m.resolve(snap)
	}
}

func (m *Module) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(context.Background(), plugin.Event{
		Topic:     topic,
		Source:    "router",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
