// Package fritzboxtest provides an in-process fake router for tests.
package fritzboxtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/HerbHall/homewatch/internal/fritzbox"
	"github.com/HerbHall/homewatch/pkg/models"
)

// Router is a fake login_sid.lua / query.lua endpoint pair.
type Router struct {
	Server    *httptest.Server
	Challenge string
	Password  string
	SID       string

	mu             sync.Mutex
	devices        []models.Client
	challengeCode  int
	queryCode      int
	rejectAll      bool
	loginAttempts  atomic.Int32
	challengeCalls atomic.Int32
	queries        atomic.Int32
	queryGate      chan struct{}
}

// New starts a fake router accepting password "secret".
func New(t *testing.T) *Router {
	t.Helper()
	r := &Router{
		Challenge: "1234567z",
		Password:  "secret",
		SID:       "f1e2d3c4b5a69788",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login_sid.lua", r.handleLogin)
	mux.HandleFunc("GET /query.lua", r.handleQuery)
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Server.Close)
	return r
}

// URL is the base URL to configure as router address.
func (r *Router) URL() string { return r.Server.URL }

// SetDevices replaces the device list returned by query.lua.
func (r *Router) SetDevices(devices ...models.Client) {
	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()
}

// FailChallenge makes the challenge endpoint reply with code.
func (r *Router) FailChallenge(code int) {
	r.mu.Lock()
	r.challengeCode = code
	r.mu.Unlock()
}

// FailQuery makes query.lua reply with code.
func (r *Router) FailQuery(code int) {
	r.mu.Lock()
	r.queryCode = code
	r.mu.Unlock()
}

// RejectAll makes every login attempt fail with the invalid SID.
func (r *Router) RejectAll(reject bool) {
	r.mu.Lock()
	r.rejectAll = reject
	r.mu.Unlock()
}

// BlockQueries makes query.lua wait until the returned func is called or the
// request is cancelled.
func (r *Router) BlockQueries() (release func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.queryGate = ch
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// LoginAttempts counts login requests carrying a response.
func (r *Router) LoginAttempts() int { return int(r.loginAttempts.Load()) }

// ChallengeCalls counts challenge requests.
func (r *Router) ChallengeCalls() int { return int(r.challengeCalls.Load()) }

// Queries counts device list requests.
func (r *Router) Queries() int { return int(r.queries.Load()) }

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	challengeCode := r.challengeCode
	reject := r.rejectAll
	r.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	response := req.URL.Query().Get("response")
	if response == "" {
		r.challengeCalls.Add(1)
		if challengeCode != 0 {
			w.WriteHeader(challengeCode)
			return
		}
		writeSessionInfo(w, fritzbox.InvalidSID, r.Challenge, 0)
		return
	}

	r.loginAttempts.Add(1)
	if reject || response != fritzbox.ResponseHash(r.Challenge, r.Password) {
		writeSessionInfo(w, fritzbox.InvalidSID, r.Challenge, 10)
		return
	}
	writeSessionInfo(w, r.SID, r.Challenge, 0)
}

func (r *Router) handleQuery(w http.ResponseWriter, req *http.Request) {
	r.queries.Add(1)
	r.mu.Lock()
	code := r.queryCode
	gate := r.queryGate
	devices := append([]models.Client(nil), r.devices...)
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-req.Context().Done():
			return
		}
	}
	if code != 0 {
		w.WriteHeader(code)
		return
	}
	if req.URL.Query().Get("sid") != r.SID {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	type entry struct {
		Name   string `json:"name"`
		Active string `json:"active"`
	}
	list := struct {
		Network []entry `json:"network"`
	}{Network: make([]entry, 0, len(devices))}
	for _, d := range devices {
		active := "0"
		if d.Active {
			active = "1"
		}
		list.Network = append(list.Network, entry{Name: d.Name, Active: active})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func writeSessionInfo(w http.ResponseWriter, sid, challenge string, blockTime int) {
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><SessionInfo><SID>%s</SID><Challenge>%s</Challenge><BlockTime>%d</BlockTime><Rights></Rights></SessionInfo>`,
		sid, challenge, blockTime)
}
