package mqtt

import (
	"context"
	"sync"

	"github.com/HerbHall/homewatch/internal/camera"
	"github.com/HerbHall/homewatch/internal/router"
	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/HerbHall/homewatch/pkg/roles"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// Module implements the MQTT publisher plugin. It mirrors presence and
// camera state to retained topics and, when enabled, announces the
// entities through Home Assistant auto-discovery.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	plugins   plugin.PluginResolver

	mu        sync.RWMutex
	client    pahomqtt.Client
	announced map[string]bool // nicknames with a published discovery config
}

// New creates a new MQTT publisher plugin instance.
func New() *Module {
	return &Module{
		newClient: pahomqtt.NewClient,
		announced: make(map[string]bool),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "mqtt",
		Version:     "0.1.0",
		Description: "Publishes presence and camera state to an MQTT broker",
		Roles:       []string{roles.RoleNotification, roles.RoleIntegration},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.cfg = loadConfig(deps.Config)
	m.plugins = deps.Plugins

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("MQTT broker URL not configured; events will be dropped")
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ha_discovery", m.cfg.HADiscovery),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	avail := m.availabilityTopic()
	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetWill(avail, "offline", m.cfg.QoS, true).
		SetOnConnectHandler(func(pahomqtt.Client) { m.onConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}

	client := m.newClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.publishLocked(m.availabilityTopic(), "offline", true)
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// onConnect runs after every (re)connect. The broker may have lost
// retained discovery configs, so everything known is announced again,
// followed by the current presence of every nickname when a presence
// provider is registered.
func (m *Module) onConnect() {
	var (
		report  models.PresenceReport
		current bool
	)
	if p, ok := roles.Presence(m.plugins); ok {
		report, current = p.Presence()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked(m.availabilityTopic(), "online", true)
	if m.cfg.HADiscovery {
		m.publishDiscoveryLocked(BuildHubDiscoveryConfigs(m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix))
		if current {
			for _, p := range report.Presence {
				m.announced[p.Nickname] = true
			}
		}
		for nick := range m.announced {
			m.publishDiscoveryLocked([]DiscoveryConfig{
				BuildPresenceDiscoveryConfig(nick, m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix),
			})
		}
	}
	if !current {
		return
	}
	for _, p := range report.Presence {
		m.publishLocked(PresenceTopic(m.cfg.TopicPrefix, p.Nickname), onOff(p.Active), true)
	}
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: router.TopicPresence, Handler: m.handlePresence},
		{Topic: router.TopicStatus, Handler: m.handleRouterStatus},
		{Topic: camera.TopicStreamOpened, Handler: m.handleStream},
		{Topic: camera.TopicStreamClosed, Handler: m.handleStream},
		{Topic: camera.TopicMotion, Handler: m.handleMotion},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

func (m *Module) availabilityTopic() string {
	return m.cfg.TopicPrefix + "/status"
}

// handlePresence publishes every nickname whose state changed. New
// nicknames get a discovery config first; nicknames that disappeared from
// the filter are removed from HA.
func (m *Module) handlePresence(_ context.Context, event plugin.Event) {
	ev, ok := event.Payload.(router.PresenceEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connectedLocked() {
		return
	}

	if m.cfg.HADiscovery {
		current := make(map[string]bool, len(ev.Report.Presence))
		for _, p := range ev.Report.Presence {
			current[p.Nickname] = true
			if !m.announced[p.Nickname] {
				m.publishDiscoveryLocked([]DiscoveryConfig{
					BuildPresenceDiscoveryConfig(p.Nickname, m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix),
				})
				m.announced[p.Nickname] = true
			}
		}
		for nick := range m.announced {
			if !current[nick] {
				m.publishDiscoveryLocked([]DiscoveryConfig{BuildPresenceRemovalConfig(nick, m.cfg.HADiscoveryPrefix)})
				delete(m.announced, nick)
			}
		}
	}

	for _, p := range ev.Changed {
		m.publishLocked(PresenceTopic(m.cfg.TopicPrefix, p.Nickname), onOff(p.Active), m.cfg.Retain)
	}
}

func (m *Module) handleRouterStatus(_ context.Context, event plugin.Event) {
	ev, ok := event.Payload.(router.StatusEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedLocked() {
		m.publishLocked(m.cfg.TopicPrefix+"/router/state", ev.To, m.cfg.Retain)
	}
}

func (m *Module) handleStream(_ context.Context, event plugin.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedLocked() {
		m.publishLocked(m.cfg.TopicPrefix+"/camera/stream", onOff(event.Topic == camera.TopicStreamOpened), m.cfg.Retain)
	}
}

// handleMotion publishes ON for every match. The OFF transition is left to
// the HA off_delay.
func (m *Module) handleMotion(_ context.Context, _ plugin.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedLocked() {
		m.publishLocked(m.cfg.TopicPrefix+"/camera/motion", "ON", false)
	}
}

func (m *Module) connectedLocked() bool {
	return m.client != nil && m.client.IsConnected()
}

// publishDiscoveryLocked publishes a batch of HA discovery config payloads.
// Discovery configs are always retained so HA picks them up on restart.
func (m *Module) publishDiscoveryLocked(configs []DiscoveryConfig) {
	for i := range configs {
		if configs[i].Topic == "" {
			continue
		}
		token := m.client.Publish(configs[i].Topic, m.cfg.QoS, true, configs[i].Payload)
		if !token.WaitTimeout(m.cfg.Timeout) {
			m.logger.Warn("ha discovery publish timed out",
				zap.String("topic", configs[i].Topic),
			)
			continue
		}
		if token.Error() != nil {
			m.logger.Warn("ha discovery publish failed",
				zap.String("topic", configs[i].Topic),
				zap.Error(token.Error()),
			)
			continue
		}
		m.logger.Debug("ha discovery published",
			zap.String("topic", configs[i].Topic),
			zap.Bool("removal", len(configs[i].Payload) == 0),
		)
	}
}

func (m *Module) publishLocked(topic, value string, retain bool) {
	token := m.client.Publish(topic, m.cfg.QoS, retain, []byte(value))
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("state publish timed out", zap.String("topic", topic))
		return
	}
	if token.Error() != nil {
		m.logger.Warn("state publish failed",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
		return
	}
	m.logger.Debug("state published", zap.String("topic", topic), zap.String("value", value))
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
