package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"designsync/pkg/bridge"
	"designsync/pkg/config"
)

// OriginsHandler manages the frame origin allow-list at runtime. Overrides
// are persisted through the config provider and applied to the live policy.
type OriginsHandler struct {
	cfgProv config.Provider
	policy  *bridge.OriginPolicy
}

// NewOriginsHandler creates a new OriginsHandler.
func NewOriginsHandler(cfg config.Provider, policy *bridge.OriginPolicy) *OriginsHandler {
	return &OriginsHandler{cfgProv: cfg, policy: policy}
}

// OriginsResponse lists the active allow-list.
type OriginsResponse struct {
	Origins    []string `json:"origins"`
	Configured []string `json:"configured"`
}

// OriginsRequest replaces the allow-list.
type OriginsRequest struct {
	Origins []string `json:"origins"`
}

// HandleGet returns the active and the file-configured allow-lists.
// GET /api/config/origins
func (h *OriginsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.respond(w)
}

// HandlePut stores an override and applies it.
// PUT /api/config/origins
func (h *OriginsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req OriginsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.cfgProv.SetAllowedOrigins(r.Context(), req.Origins); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.policy.Replace(req.Origins); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("Origin allow-list overridden", "origins", h.policy.Origins())
	h.respond(w)
}

// HandleDelete drops the override and restores the configured list.
// DELETE /api/config/origins
func (h *OriginsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.cfgProv.ClearAllowedOrigins(r.Context()); err != nil {
		slog.Error("OriginsHandler: clear failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := h.policy.Replace(h.cfgProv.AllowedOrigins(r.Context())); err != nil {
		slog.Error("OriginsHandler: configured origins rejected", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	slog.Info("Origin allow-list override cleared", "origins", h.policy.Origins())
	h.respond(w)
}

func (h *OriginsHandler) respond(w http.ResponseWriter) {
	writeJSON(w, OriginsResponse{
		Origins:    h.policy.Origins(),
		Configured: h.cfgProv.AppConfig().Bridge.AllowedOrigins,
	})
}
