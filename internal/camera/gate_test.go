package camera

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/homewatch/internal/mjpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedProber returns the next queued result on every call.
type scriptedProber struct {
	mu      sync.Mutex
	results []probeResult
}

type probeResult struct {
	b   byte
	err error
}

func (p *scriptedProber) push(b byte, err error) {
	p.mu.Lock()
	p.results = append(p.results, probeResult{b, err})
	p.mu.Unlock()
}

func (p *scriptedProber) Probe(context.Context) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return 0, errors.New("no scripted result")
	}
	r := p.results[0]
	p.results = p.results[1:]
	return r.b, r.err
}

type fakeStreams struct {
	alive  bool
	opens  int
	closes int
}

func (f *fakeStreams) Alive() bool { return f.alive }
func (f *fakeStreams) OpenStream(context.Context) error {
	f.opens++
	f.alive = true
	return nil
}
func (f *fakeStreams) CloseStream() {
	f.closes++
	f.alive = false
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time                    { return c.now }
func (c *clock) Advance(d time.Duration)           { c.now = c.now.Add(d) }
func (c *clock) Set(t0 time.Time, d time.Duration) { c.now = t0.Add(d) }

func newTestGate(trigger byte, interacting func() bool) (*Gate, *scriptedProber, *fakeStreams, *clock) {
	prober := &scriptedProber{}
	streams := &fakeStreams{}
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGate(GateConfig{Interval: time.Second, Trigger: trigger}, prober, streams, interacting, zap.NewNop())
	g.nowFunc = clk.Now
	return g, prober, streams, clk
}

func TestGate_Hysteresis(t *testing.T) {
	g, prober, streams, clk := newTestGate(0x01, nil)
	ctx := context.Background()
	t0 := clk.now

	prober.push(0x01, nil)
	g.Tick(ctx)
	require.True(t, streams.alive, "match must open the stream")
	assert.Equal(t, t0, g.LastActivity())

	prober.push(0x00, nil)
	clk.Set(t0, 3*time.Second)
	g.Tick(ctx)
	assert.True(t, streams.alive, "mismatch within cooldown must not close")

	prober.push(0x00, nil)
	clk.Set(t0, 60*time.Second)
	g.Tick(ctx)
	assert.True(t, streams.alive, "cooldown boundary is exclusive")

	prober.push(0x00, nil)
	clk.Set(t0, 61*time.Second)
	g.Tick(ctx)
	assert.False(t, streams.alive, "mismatch after cooldown must close")
	assert.Equal(t, 1, streams.opens)
	assert.Equal(t, 1, streams.closes)
}

func TestGate_MatchWhileAliveDoesNotExtendCooldown(t *testing.T) {
	g, prober, streams, clk := newTestGate(0x01, nil)
	ctx := context.Background()
	t0 := clk.now

	prober.push(0x01, nil)
	g.Tick(ctx)

	prober.push(0x01, nil)
	clk.Set(t0, 50*time.Second)
	g.Tick(ctx)
	assert.Equal(t, 1, streams.opens)
	assert.Equal(t, t0, g.LastActivity())

	prober.push(0x00, nil)
	clk.Set(t0, 61*time.Second)
	g.Tick(ctx)
	assert.False(t, streams.alive)
}

func TestGate_InteractionBlocksClose(t *testing.T) {
	var interacting atomic.Bool
	interacting.Store(true)
	g, prober, streams, clk := newTestGate(0x01, interacting.Load)
	ctx := context.Background()
	t0 := clk.now

	prober.push(0x01, nil)
	g.Tick(ctx)

	prober.push(0x00, nil)
	clk.Set(t0, 2*time.Minute)
	g.Tick(ctx)
	assert.True(t, streams.alive, "interaction must keep the stream open")

	interacting.Store(false)
	prober.push(0x00, nil)
	clk.Advance(3 * time.Second)
	g.Tick(ctx)
	assert.False(t, streams.alive)
}

func TestGate_ProbeFailuresLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"short document", ErrShortProbe},
		{"transport error", &ProbeError{URL: "http://cam", Err: errors.New("refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, prober, streams, clk := newTestGate(0x00, nil)
			ctx := context.Background()

			prober.push(0x00, nil)
			g.Tick(ctx)
			require.True(t, streams.alive)

			clk.Advance(5 * time.Minute)
			prober.push(0, tt.err)
			g.Tick(ctx)
			assert.True(t, streams.alive)
			assert.Equal(t, 1, streams.opens)
			assert.Equal(t, 0, streams.closes)
		})
	}
}

func TestGate_Events(t *testing.T) {
	g, prober, _, clk := newTestGate(0x01, nil)
	t0 := clk.now
	var kinds []GateEventKind
	g.OnEvent(func(ev GateEvent) { kinds = append(kinds, ev.Kind) })

	prober.push(0x01, nil)
	g.Tick(context.Background())
	prober.push(0x00, nil)
	clk.Set(t0, 61*time.Second)
	g.Tick(context.Background())

	assert.Equal(t, []GateEventKind{GateMotion, GateOpened, GateClosed}, kinds)
}

func TestGate_RunStops(t *testing.T) {
	g, prober, _, _ := newTestGate(0x01, nil)
	g.cfg.Interval = 5 * time.Millisecond
	for i := 0; i < 100; i++ {
		prober.push(0x00, nil)
	}

	done := make(chan struct{})
	go func() {
		g.Run(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	g.Stop()
	g.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestGate_EndToEnd(t *testing.T) {
	tests := []struct {
		name    string
		offset  int
		trigger string
		clear   string
	}{
		{"signal at index 5", 5, "STATE\x01xx", "STATE\x00xx"},
		{"signal after a padding byte", 6, "STATEx\x01xx", "STATEx\x00xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var probeBody atomic.Value
			probeBody.Store(tt.trigger)

			mux := http.NewServeMux()
			mux.HandleFunc("GET /probe", func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, probeBody.Load().(string))
			})
			mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
				w.Write([]byte("--frame\r\n\r\n\xff\xd8\x01\xff\xd9\r\n"))
				w.(http.Flusher).Flush()
				<-r.Context().Done()
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			ctrl := NewController(srv.URL+"/stream", mjpeg.Options{}, zap.NewNop())
			defer ctrl.Shutdown()
			prober := NewHTTPProber(srv.URL+"/probe", tt.offset, time.Second)
			g := NewGate(GateConfig{Interval: 3 * time.Second, Trigger: 0x01}, prober, ctrl, nil, zap.NewNop())
			clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			g.nowFunc = clk.Now
			t0 := clk.now

			g.Tick(context.Background())
			require.True(t, ctrl.Alive(), "trigger byte must open the stream")
			require.Eventually(t, func() bool {
				_, ok := ctrl.LatestFrame()
				return ok
			}, 3*time.Second, 5*time.Millisecond)

			probeBody.Store(tt.clear)
			clk.Set(t0, 61*time.Second)
			g.Tick(context.Background())
			assert.False(t, ctrl.Alive(), "cleared signal after 61s without interaction must close the stream")
		})
	}
}
