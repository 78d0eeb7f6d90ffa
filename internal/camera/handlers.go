package camera

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"go.uber.org/zap"
)

// mjpegBoundary separates parts of the re-broadcast stream.
const mjpegBoundary = "frame"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an RFC 7807 problem detail response.
func writeError(w http.ResponseWriter, r *http.Request, status int, slug, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIProblem{
		Type:     "https://homewatch.dev/problems/" + slug,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "GET", Path: "/frame.jpg", Handler: m.handleFrame},
		{Method: "GET", Path: "/stream.mjpeg", Handler: m.handleStream},
		{Method: "POST", Path: "/stream/open", Handler: m.handleOpen},
		{Method: "POST", Path: "/stream/close", Handler: m.handleClose},
		{Method: "POST", Path: "/interaction", Handler: m.handleInteraction},
	}
}

// StatusResponse is the response for GET /camera/status.
type StatusResponse struct {
	Stream  models.StreamState `json:"stream"`
	Motion  models.MotionState `json:"motion"`
	Viewers int                `json:"viewers"`
}

// handleStatus reports the stream session and motion gate state.
//
//	@Summary		Camera status
//	@Description	Current stream session, motion gate state and connected viewers.
//	@Tags			camera
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/camera/status [get]
func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Stream:  m.controller.State(),
		Viewers: m.interaction.Viewers(),
	}
	if m.gate != nil {
		resp.Motion = m.gate.State()
	} else {
		resp.Motion = models.MotionState{Interacting: m.interaction.Interacting()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFrame serves the newest decoded frame.
//
//	@Summary		Latest frame
//	@Description	The newest JPEG frame of the open session. 404 while the stream is closed or still loading.
//	@Tags			camera
//	@Produce		jpeg
//	@Success		200
//	@Failure		404	{object}	models.APIProblem
//	@Router			/camera/frame.jpg [get]
func (m *Module) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := m.controller.LatestFrame()
	if !ok {
		detail := "stream closed"
		if m.controller.State().Loading {
			detail = "stream loading"
		}
		writeError(w, r, http.StatusNotFound, "not-found", detail)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	w.Header().Set("Last-Modified", f.ReceivedAt.UTC().Format(http.TimeFormat))
	_, _ = w.Write(f.Data)
}

// handleStream re-broadcasts decoded frames as multipart MJPEG. Every
// connected viewer counts as user interaction, holding the stream open.
//
//	@Summary		MJPEG stream
//	@Description	multipart/x-mixed-replace stream of the camera frames. Viewers keep the motion gate from closing the stream.
//	@Tags			camera
//	@Produce		multipart/x-mixed-replace
//	@Success		200
//	@Router			/camera/stream.mjpeg [get]
func (m *Module) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		m.logger.Debug("cannot lift write deadline", zap.Error(err))
	}

	frames, unsubscribe := m.controller.Frames().Subscribe()
	defer unsubscribe()
	release := m.interaction.Acquire()
	defer release()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	if f, ok := m.controller.LatestFrame(); ok {
		if err := writePart(w, f); err != nil {
			return
		}
		_ = rc.Flush()
	}

	m.logger.Debug("mjpeg viewer connected", zap.Int("viewers", m.interaction.Viewers()))
	for {
		select {
		case <-r.Context().Done():
			m.logger.Debug("mjpeg viewer disconnected")
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writePart(w, f); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writePart(w http.ResponseWriter, f models.Frame) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(f.Data)); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// handleOpen opens the stream on request and restarts the cooldown.
//
//	@Summary		Open stream
//	@Description	Open a stream session if none is alive. With motion detection, the cooldown restarts now.
//	@Tags			camera
//	@Produce		json
//	@Success		202	{object}	models.StreamState
//	@Failure		503	{object}	models.APIProblem
//	@Router			/camera/stream/open [post]
func (m *Module) handleOpen(w http.ResponseWriter, r *http.Request) {
	if m.gate != nil {
		m.gate.MarkActivity()
	}
	if err := m.open(r.Context(), ReasonManual); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "service-unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, m.controller.State())
}

// handleClose closes the current session.
//
//	@Summary		Close stream
//	@Description	Close the current stream session. The motion gate may open a new one on the next match.
//	@Tags			camera
//	@Success		204
//	@Router			/camera/stream/close [post]
func (m *Module) handleClose(w http.ResponseWriter, _ *http.Request) {
	m.controller.CloseStream()
	w.WriteHeader(http.StatusNoContent)
}

// InteractionRequest is the request body for POST /camera/interaction.
type InteractionRequest struct {
	Active bool `json:"active" example:"true"`
}

// handleInteraction sets the explicit user interaction flag.
//
//	@Summary		Set interaction
//	@Description	While active, the motion gate never closes the stream.
//	@Tags			camera
//	@Accept			json
//	@Produce		json
//	@Param			request	body		InteractionRequest	true	"Interaction flag"
//	@Success		200		{object}	InteractionRequest
//	@Failure		400		{object}	models.APIProblem
//	@Router			/camera/interaction [post]
func (m *Module) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad-request", "invalid JSON body: "+err.Error())
		return
	}
	m.interaction.Set(req.Active)
	writeJSON(w, http.StatusOK, req)
}
