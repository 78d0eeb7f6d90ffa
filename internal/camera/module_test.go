package camera

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/homewatch/internal/config"
	"github.com/HerbHall/homewatch/internal/event"
	"github.com/HerbHall/homewatch/internal/testutil"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/HerbHall/homewatch/pkg/plugin/plugintest"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

// cameraServer streams the same JPEG every 10ms until the client leaves.
func cameraServer(t *testing.T) *httptest.Server {
	t.Helper()
	frame := testutil.JPEG(t, 16, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=cam")
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			fmt.Fprintf(w, "--cam\r\nContent-Type: image/jpeg\r\n\r\n")
			_, _ = w.Write(frame)
			_, _ = w.Write([]byte("\r\n"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type busRecorder struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (r *busRecorder) handle(_ context.Context, e plugin.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *busRecorder) topic(topic string) []plugin.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []plugin.Event
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func startCamera(t *testing.T, v *viper.Viper) (*Module, *busRecorder) {
	t.Helper()
	bus := event.NewBus(zap.NewNop())
	rec := &busRecorder{}
	bus.SubscribeAll(rec.handle)

	m := New()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
		Config: config.New(v),
		Logger: zap.NewNop(),
		Bus:    bus,
	}))
	require.NoError(t, m.ValidateConfig())
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m, rec
}

func do(h http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestModule_StreamWithoutMotionDetection(t *testing.T) {
	cam := cameraServer(t)
	v := viper.New()
	v.Set("stream_url", cam.URL)
	m, rec := startCamera(t, v)

	opened := rec.topic(TopicStreamOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, ReasonStartup, opened[0].Payload.(StreamEvent).Reason)

	eventually(t, func() bool {
		_, ok := m.LatestFrame()
		return ok
	})
	st := m.StreamState()
	assert.True(t, st.Alive)
	assert.Equal(t, opened[0].Payload.(StreamEvent).SessionID, st.SessionID)
	w := do(m.handleFrame, "GET", "/api/v1/camera/frame.jpg", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8}, w.Body.Bytes()[:2])
	assert.Equal(t, "healthy", m.Health(context.Background()).Status)

	assert.Equal(t, http.StatusNoContent, do(m.handleClose, "POST", "/api/v1/camera/stream/close", "").Code)
	eventually(t, func() bool { return len(rec.topic(TopicStreamClosed)) == 1 })
	assert.Empty(t, rec.topic(TopicStreamClosed)[0].Payload.(StreamEvent).Error)
	assert.Equal(t, http.StatusNotFound, do(m.handleFrame, "GET", "/api/v1/camera/frame.jpg", "").Code)
	assert.Equal(t, "degraded", m.Health(context.Background()).Status)

	w = do(m.handleOpen, "POST", "/api/v1/camera/stream/open", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	opened = rec.topic(TopicStreamOpened)
	require.Len(t, opened, 2)
	assert.Equal(t, ReasonManual, opened[1].Payload.(StreamEvent).Reason)
	assert.NotEqual(t, opened[0].Payload.(StreamEvent).SessionID, opened[1].Payload.(StreamEvent).SessionID)
}

func TestModule_MotionOpensStream(t *testing.T) {
	cam := cameraServer(t)
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "STATE\x01xx")
	}))
	t.Cleanup(probe.Close)

	v := viper.New()
	v.Set("stream_url", cam.URL)
	v.Set("motion_detection.enabled", true)
	v.Set("motion_detection.url", probe.URL)
	v.Set("motion_detection.interval", "20ms")
	v.Set("motion_detection.trigger_condition.character_offset", 5)
	v.Set("motion_detection.trigger_condition.character_byte", 1)
	m, rec := startCamera(t, v)

	eventually(t, func() bool { return len(rec.topic(TopicStreamOpened)) == 1 })
	assert.Equal(t, ReasonMotion, rec.topic(TopicStreamOpened)[0].Payload.(StreamEvent).Reason)
	eventually(t, func() bool { return len(rec.topic(TopicMotion)) >= 2 })
	assert.True(t, rec.topic(TopicMotion)[1].Payload.(MotionEvent).StreamAlive)
	assert.Len(t, rec.topic(TopicStreamOpened), 1)

	w := do(m.handleStatus, "GET", "/api/v1/camera/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)
	assert.Contains(t, w.Body.String(), `"last_match":true`)
}

func TestModule_StreamViewerCountsAsInteraction(t *testing.T) {
	cam := cameraServer(t)
	v := viper.New()
	v.Set("stream_url", cam.URL)
	m, _ := startCamera(t, v)

	srv := httptest.NewServer(http.HandlerFunc(m.handleStream))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, mjpegBoundary, params["boundary"])

	part, err := multipart.NewReader(resp.Body, params["boundary"]).NextPart()
	require.NoError(t, err)
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
	assert.Equal(t, []byte{0xFF, 0xD9}, data[len(data)-2:])

	assert.Equal(t, 1, m.interaction.Viewers())
	assert.True(t, m.interaction.Interacting())

	cancel()
	eventually(t, func() bool { return m.interaction.Viewers() == 0 })
}

func TestHandleInteraction(t *testing.T) {
	m := New()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}))

	assert.Equal(t, http.StatusBadRequest, do(m.handleInteraction, "POST", "/api/v1/camera/interaction", "{").Code)
	assert.False(t, m.interaction.Interacting())

	assert.Equal(t, http.StatusOK, do(m.handleInteraction, "POST", "/api/v1/camera/interaction", `{"active":true}`).Code)
	assert.True(t, m.interaction.Interacting())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad stream scheme", func(c *Config) { c.StreamURL = "rtsp://cam/live" }, "stream_url"},
		{"missing host", func(c *Config) { c.StreamURL = "http:///x" }, "missing host"},
		{"bad probe url", func(c *Config) {
			c.Motion.Enabled = true
			c.Motion.URL = "ftp://cam"
		}, "motion_detection.url"},
		{"negative offset", func(c *Config) {
			c.Motion.Enabled = true
			c.Motion.Trigger.Offset = -1
		}, "character_offset"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := New()
			m.cfg = DefaultConfig()
			tc.mutate(&m.cfg)
			err := m.ValidateConfig()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	v := viper.New()
	v.Set("read_timeout", "5s")
	v.Set("decode_frames", false)
	v.Set("motion_detection.enabled", true)
	v.Set("motion_detection.trigger_condition.character_offset", 17)
	v.Set("motion_detection.trigger_condition.character_byte", 49)

	cfg := loadConfig(config.New(v))
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.DecodeFrames)
	assert.True(t, cfg.Motion.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Motion.Interval)
	assert.Equal(t, TriggerCondition{Offset: 17, Byte: '1'}, cfg.Motion.Trigger)
}
