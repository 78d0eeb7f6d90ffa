package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/HerbHall/homewatch/internal/presence"
	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an RFC 7807 problem detail response.
func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIProblem{
		Type:     "https://homewatch.dev/problems/" + problemSlug(status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

func problemSlug(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not-found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "service-unavailable"
	default:
		return "internal-error"
	}
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "GET", Path: "/snapshot", Handler: m.handleGetSnapshot},
		{Method: "GET", Path: "/presence", Handler: m.handleGetPresence},
		{Method: "POST", Path: "/reconnect", Handler: m.handleReconnect},
	}
}

// StatusResponse is the response for GET /router/status.
type StatusResponse struct {
	Host         string     `json:"host" example:"fritz.box"`
	State        string     `json:"state" example:"polling"`
	AuthFailed   bool       `json:"auth_failed"`
	LastError    string     `json:"last_error,omitempty"`
	LastSnapshot *time.Time `json:"last_snapshot,omitempty"`
	Clients      int        `json:"clients"`
	PollInterval string     `json:"poll_interval" example:"30s"`
}

// handleStatus reports the polling session state.
//
//	@Summary		Router status
//	@Description	Session state of the router poller, including permanent auth failure.
//	@Tags			router
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/router/status [get]
func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Host:         m.client.Host(),
		State:        m.poller.State().String(),
		AuthFailed:   m.poller.AuthFailed(),
		PollInterval: m.cfg.PollInterval.String(),
	}
	if err := m.poller.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if snap, ok := m.poller.Snapshot(); ok {
		t := snap.TakenAt
		resp.LastSnapshot = &t
		resp.Clients = len(snap.Clients)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSnapshot returns the latest device snapshot.
//
//	@Summary		Latest snapshot
//	@Description	Device list from the most recent successful poll.
//	@Tags			router
//	@Produce		json
//	@Success		200	{object}	models.Snapshot
//	@Failure		404	{object}	models.APIProblem
//	@Failure		503	{object}	models.APIProblem
//	@Router			/router/snapshot [get]
func (m *Module) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := m.poller.Snapshot()
	if ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if m.poller.AuthFailed() {
		writeError(w, r, http.StatusServiceUnavailable, ErrNotAuthenticated.Error())
		return
	}
	writeError(w, r, http.StatusNotFound, "no snapshot available yet")
}

// PresenceResponse is the response for GET /router/presence.
type PresenceResponse struct {
	models.PresenceReport
	Message string `json:"message,omitempty" example:"Filter didn't match to anyone"`
}

// handleGetPresence returns the filter output for the latest snapshot.
//
//	@Summary		Presence
//	@Description	Nicknames resolved from the latest snapshot through the configured filter rules.
//	@Tags			router
//	@Produce		json
//	@Success		200	{object}	PresenceResponse
//	@Failure		404	{object}	models.APIProblem
//	@Router			/router/presence [get]
func (m *Module) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	report, ok := m.Presence()
	if !ok {
		writeError(w, r, http.StatusNotFound, "no snapshot available yet")
		return
	}
	writeJSON(w, http.StatusOK, PresenceResponse{
		PresenceReport: report,
		Message:        presence.Message(report),
	})
}

// handleReconnect restarts the session after a permanent failure.
//
//	@Summary		Reconnect
//	@Description	Start a fresh login with a new attempt budget. Conflicts while a session is active.
//	@Tags			router
//	@Produce		json
//	@Success		202	{object}	map[string]string
//	@Failure		409	{object}	models.APIProblem
//	@Router			/router/reconnect [post]
func (m *Module) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !m.Reconnect() {
		writeError(w, r, http.StatusConflict, "router session is still active (state "+m.poller.State().String()+")")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": m.poller.State().String()})
}
