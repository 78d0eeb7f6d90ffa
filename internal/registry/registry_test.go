package registry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/homewatch/internal/event"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubModule is a minimal plugin whose lifecycle can be scripted.
type stubModule struct {
	info      plugin.PluginInfo
	initErr   error
	startErr  error
	stopErr   error
	panicOn   string
	stopDelay time.Duration
	stops     *[]string
	stopMu    *sync.Mutex
	stopCount atomic.Int32
}

func newStub(name string, deps ...string) *stubModule {
	return &stubModule{
		info: plugin.PluginInfo{
			Name:         name,
			Version:      "0.1.0",
			Dependencies: deps,
			APIVersion:   plugin.APIVersionCurrent,
		},
	}
}

func (m *stubModule) Info() plugin.PluginInfo { return m.info }

func (m *stubModule) Init(_ context.Context, _ plugin.Dependencies) error {
	if m.panicOn == "init" {
		panic("init exploded")
	}
	return m.initErr
}

func (m *stubModule) Start(_ context.Context) error {
	if m.panicOn == "start" {
		panic("start exploded")
	}
	return m.startErr
}

func (m *stubModule) Stop(ctx context.Context) error {
	m.stopCount.Add(1)
	if m.panicOn == "stop" {
		panic("stop exploded")
	}
	if m.stopDelay > 0 {
		select {
		case <-time.After(m.stopDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.stops != nil {
		m.stopMu.Lock()
		*m.stops = append(*m.stops, m.info.Name)
		m.stopMu.Unlock()
	}
	return m.stopErr
}

type routedModule struct {
	*stubModule
	routes []plugin.Route
}

func (m *routedModule) Routes() []plugin.Route { return m.routes }

type subscribingModule struct {
	*stubModule
	subs []plugin.Subscription
}

func (m *subscribingModule) Subscriptions() []plugin.Subscription { return m.subs }

type healthModule struct {
	*stubModule
	status string
}

func (m *healthModule) Health(context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: m.status}
}

type validatingModule struct {
	*stubModule
	err error
}

func (m *validatingModule) ValidateConfig() error { return m.err }

func noDeps(name string) plugin.Dependencies {
	return plugin.Dependencies{Logger: zap.NewNop().Named(name)}
}

func setup(t *testing.T, plugins ...plugin.Plugin) *Registry {
	t.Helper()
	reg := New(zap.NewNop())
	for _, p := range plugins {
		require.NoError(t, reg.Register(p))
	}
	require.NoError(t, reg.Validate())
	return reg
}

func names(plugins []plugin.Plugin) []string {
	out := make([]string, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p.Info().Name)
	}
	return out
}

func TestRegister(t *testing.T) {
	reg := New(zap.NewNop())
	require.NoError(t, reg.Register(newStub("router")))

	err := reg.Register(newStub("router"))
	assert.ErrorContains(t, err, "already registered")

	err = reg.Register(newStub(""))
	assert.ErrorContains(t, err, "empty name")
}

func TestValidate_DependencyOrder(t *testing.T) {
	reg := setup(t,
		newStub("mqtt", "router", "camera"),
		newStub("camera"),
		newStub("router"),
		newStub("webhook", "router"),
	)
	assert.Equal(t, []string{"camera", "router", "mqtt", "webhook"}, names(reg.All()))
}

func TestValidate_CycleDetected(t *testing.T) {
	reg := New(zap.NewNop())
	require.NoError(t, reg.Register(newStub("a", "b")))
	require.NoError(t, reg.Register(newStub("b", "a")))

	err := reg.Validate()
	assert.ErrorContains(t, err, "cycle")
}

func TestValidate_MissingDependency(t *testing.T) {
	t.Run("optional plugin disabled", func(t *testing.T) {
		reg := setup(t, newStub("mqtt", "router"))
		assert.True(t, reg.IsDisabled("mqtt"))
		_, ok := reg.Resolve("mqtt")
		assert.False(t, ok)
	})

	t.Run("required plugin fails validation", func(t *testing.T) {
		p := newStub("mqtt", "router")
		p.info.Required = true
		reg := New(zap.NewNop())
		require.NoError(t, reg.Register(p))
		assert.ErrorContains(t, reg.Validate(), "not registered")
	})
}

func TestValidate_APIVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
	}{
		{"too old", plugin.APIVersionMin - 1},
		{"too new", plugin.APIVersionCurrent + 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newStub("camera")
			p.info.APIVersion = tc.version
			reg := setup(t, p)
			assert.True(t, reg.IsDisabled("camera"))
		})
	}
}

func TestDisable_Cascades(t *testing.T) {
	reg := New(zap.NewNop())
	require.NoError(t, reg.Register(newStub("router")))
	require.NoError(t, reg.Register(newStub("webhook", "router")))
	require.NoError(t, reg.Register(newStub("camera")))
	reg.Disable("router")
	require.NoError(t, reg.Validate())

	assert.True(t, reg.IsDisabled("router"))
	assert.True(t, reg.IsDisabled("webhook"))
	assert.Equal(t, []string{"camera"}, names(reg.All()))
}

func TestInitAll_Failures(t *testing.T) {
	t.Run("optional failure disables plugin", func(t *testing.T) {
		p := newStub("mqtt")
		p.initErr = errors.New("broker unreachable")
		reg := setup(t, p, newStub("router"))

		require.NoError(t, reg.InitAll(context.Background(), noDeps))
		assert.True(t, reg.IsDisabled("mqtt"))
		assert.False(t, reg.IsDisabled("router"))
	})

	t.Run("required failure aborts", func(t *testing.T) {
		p := newStub("router")
		p.info.Required = true
		p.initErr = errors.New("bad address")
		reg := setup(t, p)

		err := reg.InitAll(context.Background(), noDeps)
		assert.ErrorContains(t, err, "bad address")
	})

	t.Run("validator rejects config", func(t *testing.T) {
		p := &validatingModule{stubModule: newStub("camera"), err: errors.New("stream_url is empty")}
		reg := setup(t, p)

		require.NoError(t, reg.InitAll(context.Background(), noDeps))
		assert.True(t, reg.IsDisabled("camera"))
	})
}

func TestInitAll_WiresEventSubscriber(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	var got []string
	p := &subscribingModule{
		stubModule: newStub("webhook"),
		subs: []plugin.Subscription{
			{Topic: "router.presence", Handler: func(_ context.Context, e plugin.Event) { got = append(got, e.Topic) }},
			{Topic: "camera.motion", Handler: func(_ context.Context, e plugin.Event) { got = append(got, e.Topic) }},
		},
	}
	reg := setup(t, p)
	require.NoError(t, reg.InitAll(context.Background(), func(name string) plugin.Dependencies {
		deps := noDeps(name)
		deps.Bus = bus
		return deps
	}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, plugin.Event{Topic: "router.presence"}))
	require.NoError(t, bus.Publish(ctx, plugin.Event{Topic: "router.snapshot"}))
	require.NoError(t, bus.Publish(ctx, plugin.Event{Topic: "camera.motion"}))
	assert.Equal(t, []string{"router.presence", "camera.motion"}, got)

	reg.Unsubscribe()
	require.NoError(t, bus.Publish(ctx, plugin.Event{Topic: "camera.motion"}))
	assert.Len(t, got, 2)
}

func TestAllRoutes(t *testing.T) {
	h := func(http.ResponseWriter, *http.Request) {}
	reg := setup(t,
		&routedModule{stubModule: newStub("router"), routes: []plugin.Route{{Method: "GET", Path: "/status", Handler: h}}},
		&routedModule{stubModule: newStub("empty")},
		newStub("mqtt"),
	)
	routes := reg.AllRoutes()
	assert.Len(t, routes, 1)
	assert.Len(t, routes["router"], 1)
}

func TestHealth(t *testing.T) {
	reg := setup(t,
		&healthModule{stubModule: newStub("router"), status: "healthy"},
		&healthModule{stubModule: newStub("camera"), status: "degraded"},
		newStub("webhook"),
	)
	got := reg.Health(context.Background())
	assert.Equal(t, map[string]plugin.HealthStatus{
		"router": {Status: "healthy"},
		"camera": {Status: "degraded"},
	}, got)
}

func TestResolveByRole(t *testing.T) {
	r := newStub("router")
	r.info.Roles = []string{"presence"}
	c := newStub("camera")
	c.info.Roles = []string{"video"}
	reg := setup(t, r, c)

	assert.Equal(t, []string{"router"}, names(reg.ResolveByRole("presence")))
	assert.Empty(t, reg.ResolveByRole("storage"))
	p, ok := reg.Resolve("camera")
	require.True(t, ok)
	assert.Equal(t, "camera", p.Info().Name)
}

func TestStopAll_ReverseOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		stops []string
	)
	mk := func(name string, deps ...string) *stubModule {
		p := newStub(name, deps...)
		p.stops, p.stopMu = &stops, &mu
		return p
	}
	reg := setup(t, mk("router"), mk("camera"), mk("mqtt", "router", "camera"))
	ctx := context.Background()
	require.NoError(t, reg.InitAll(ctx, noDeps))
	require.NoError(t, reg.StartAll(ctx))

	reg.StopAll(ctx)
	assert.Equal(t, []string{"mqtt", "router", "camera"}, stops)
}

func TestStopAll_ErrorsAndPanicsDoNotBlockOthers(t *testing.T) {
	failing := newStub("camera")
	failing.stopErr = errors.New("close failed")
	panicking := newStub("mqtt")
	panicking.panicOn = "stop"
	healthy := newStub("router")

	reg := setup(t, failing, panicking, healthy)
	ctx := context.Background()
	require.NoError(t, reg.InitAll(ctx, noDeps))
	require.NoError(t, reg.StartAll(ctx))
	reg.StopAll(ctx)

	for _, p := range []*stubModule{failing, panicking, healthy} {
		assert.Equal(t, int32(1), p.stopCount.Load(), p.info.Name)
	}
}

func TestStopAll_RespectsContextDeadline(t *testing.T) {
	slow := newStub("camera")
	slow.stopDelay = 5 * time.Second
	reg := setup(t, slow, newStub("router"))
	require.NoError(t, reg.InitAll(context.Background(), noDeps))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	reg.StopAll(ctx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPanicRecovery(t *testing.T) {
	tests := []struct {
		phase    string
		required bool
	}{
		{"init", false},
		{"init", true},
		{"start", false},
		{"start", true},
	}
	for _, tc := range tests {
		name := tc.phase
		if tc.required {
			name += "/required"
		}
		t.Run(name, func(t *testing.T) {
			p := newStub("camera")
			p.panicOn = tc.phase
			p.info.Required = tc.required
			reg := setup(t, p, newStub("router"))

			ctx := context.Background()
			err := reg.InitAll(ctx, noDeps)
			if err == nil {
				err = reg.StartAll(ctx)
			}
			if tc.required {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "panicked")
				return
			}
			require.NoError(t, err)
			assert.True(t, reg.IsDisabled("camera"))
			assert.False(t, reg.IsDisabled("router"))
		})
	}
}

func TestStopAll_Concurrent(t *testing.T) {
	p := newStub("camera")
	p.stopDelay = 20 * time.Millisecond
	reg := setup(t, p)
	ctx := context.Background()
	require.NoError(t, reg.InitAll(ctx, noDeps))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.StopAll(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), p.stopCount.Load())
}
