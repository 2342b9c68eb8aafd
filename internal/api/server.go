package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"designsync/pkg/version"
)

// Handlers groups the API handlers. Nil optional handlers leave their routes unregistered.
type Handlers struct {
	Params  *ParamsHandler
	Presets *PresetHandler
	Zoom    *ZoomHandler
	Origins *OriginsHandler
	Stats   *StatsHandler
	// Frames upgrades preview frame connections.
	Frames  http.Handler
	Metrics http.Handler
}

// NewServer creates and configures the HTTP server.
// shutdown is called by POST /api/shutdown.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 2. Parameters
	mux.HandleFunc("GET /api/params", h.Params.HandleGet)
	mux.HandleFunc("PUT /api/params", h.Params.HandleNavigate)
	mux.HandleFunc("PATCH /api/params", h.Params.HandleSet)

	// 3. Presets
	if h.Presets != nil {
		mux.HandleFunc("GET /api/presets", h.Presets.HandleList)
		mux.HandleFunc("PUT /api/presets/{name}", h.Presets.HandleSave)
		mux.HandleFunc("POST /api/presets/{name}/apply", h.Presets.HandleApply)
		mux.HandleFunc("DELETE /api/presets/{name}", h.Presets.HandleDelete)
	}

	// 4. Zoom
	mux.HandleFunc("GET /api/zoom", h.Zoom.HandleGet)
	mux.HandleFunc("POST /api/zoom", h.Zoom.HandleCommand)

	// 5. Origins
	if h.Origins != nil {
		mux.HandleFunc("GET /api/config/origins", h.Origins.HandleGet)
		mux.HandleFunc("PUT /api/config/origins", h.Origins.HandlePut)
		mux.HandleFunc("DELETE /api/config/origins", h.Origins.HandleDelete)
	}

	// 6. Stats and metrics
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	// 7. Frame relay
	if h.Frames != nil {
		mux.Handle("GET /ws/frame", h.Frames)
	}

	// 8. Shutdown
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": %q}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
