package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"designsync/pkg/zoom"
)

// ZoomController sends zoom commands to frames and remembers their reports.
type ZoomController interface {
	Zoom(cmd zoom.Command) (int, error)
	ZoomLevel() (float64, bool)
}

// ZoomHandler exposes the zoom channel.
type ZoomHandler struct {
	ctl ZoomController
}

// NewZoomHandler creates a new ZoomHandler.
func NewZoomHandler(ctl ZoomController) *ZoomHandler {
	return &ZoomHandler{ctl: ctl}
}

// ZoomRequest mirrors the wire command: {"type":"ZOOM_SET","value":1.5}.
type ZoomRequest struct {
	Type  zoom.Op  `json:"type"`
	Value *float64 `json:"value,omitempty"`
}

// ZoomResponse reports the last known zoom level.
type ZoomResponse struct {
	Zoom   float64 `json:"zoom"`
	Known  bool    `json:"known"`
	Frames int     `json:"frames,omitempty"`
}

// HandleCommand sends a command to every attached frame. The reply only says
// how many frames were reached; the level itself arrives asynchronously.
// POST /api/zoom
func (h *ZoomHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cmd := zoom.Command{Op: req.Type}
	if req.Type == zoom.OpZoomSet {
		if req.Value == nil {
			http.Error(w, "ZOOM_SET needs a value", http.StatusBadRequest)
			return
		}
		cmd.Value = *req.Value
	}
	n, err := h.ctl.Zoom(cmd)
	if errors.Is(err, zoom.ErrUnknownOp) || errors.Is(err, zoom.ErrInvalidZoom) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	level, known := h.ctl.ZoomLevel()
	writeJSONStatus(w, http.StatusAccepted, ZoomResponse{Zoom: level, Known: known, Frames: n})
}

// HandleGet returns the last reported zoom level.
// GET /api/zoom
func (h *ZoomHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	level, known := h.ctl.ZoomLevel()
	writeJSON(w, ZoomResponse{Zoom: level, Known: known})
}
