package api

import (
	"net/http"
	"runtime"

	"designsync/pkg/bridge"
)

// StatsSource reports endpoint counters.
type StatsSource interface {
	Stats() bridge.Stats
}

// FrameLister lists attached frames.
type FrameLister interface {
	Frames() []string
}

// StatsHandler serves bridge counters and attached frames.
type StatsHandler struct {
	endpoint StatsSource
	frames   FrameLister
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(ep StatsSource, frames FrameLister) *StatsHandler {
	return &StatsHandler{endpoint: ep, frames: frames}
}

// StatsResponse is the GET /api/stats payload.
type StatsResponse struct {
	Bridge     BridgeStatsDTO `json:"bridge"`
	Frames     []string       `json:"frames"`
	Goroutines int            `json:"goroutines"`
	MemoryMB   uint64         `json:"memory_mb"`
}

// BridgeStatsDTO mirrors bridge.Stats.
type BridgeStatsDTO struct {
	Posted    uint64 `json:"posted"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := h.endpoint.Stats()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	frames := h.frames.Frames()
	if frames == nil {
		frames = []string{}
	}
	writeJSON(w, StatsResponse{
		Bridge: BridgeStatsDTO{
			Posted:    s.Posted,
			Delivered: s.Delivered,
			Dropped:   s.Dropped,
			Rejected:  s.Rejected,
		},
		Frames:     frames,
		Goroutines: runtime.NumGoroutine(),
		MemoryMB:   mem.Alloc / 1024 / 1024,
	})
}
