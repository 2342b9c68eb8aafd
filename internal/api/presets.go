package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"designsync/pkg/store"
)

// PresetHandler bookmarks and restores canonical queries.
type PresetHandler struct {
	presets store.PresetStore
	parent  ParamsController
}

// NewPresetHandler creates a new PresetHandler. Returns nil if dependencies are missing.
func NewPresetHandler(presets store.PresetStore, parent ParamsController) *PresetHandler {
	if presets == nil || parent == nil {
		return nil
	}
	return &PresetHandler{presets: presets, parent: parent}
}

// HandleList returns all presets sorted by name.
// GET /api/presets
func (h *PresetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.presets.ListPresets(r.Context())
	if err != nil {
		slog.Error("PresetHandler: list failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.Preset{}
	}
	writeJSON(w, list)
}

// HandleSave stores the current canonical query under {name}.
// PUT /api/presets/{name}
func (h *PresetHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !store.ValidPresetName(name) {
		http.Error(w, "Invalid preset name", http.StatusBadRequest)
		return
	}
	if err := h.presets.SavePreset(r.Context(), name, h.parent.Query()); err != nil {
		slog.Error("PresetHandler: save failed", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	p, err := h.presets.GetPreset(r.Context(), name)
	if err != nil || p == nil {
		slog.Error("PresetHandler: reload after save failed", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, p)
}

// HandleApply navigates the parent to the preset's query.
// POST /api/presets/{name}/apply
func (h *PresetHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, err := h.presets.GetPreset(r.Context(), name)
	if err != nil {
		slog.Error("PresetHandler: get failed", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, "Preset not found", http.StatusNotFound)
		return
	}
	set := h.parent.Navigate(r.Context(), p.Query)
	slog.Info("Preset applied", "name", name, "query", set.Encode())
	writeJSON(w, map[string]string{"name": name, "query": set.Encode()})
}

// HandleDelete removes a preset.
// DELETE /api/presets/{name}
func (h *PresetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	removed, err := h.presets.DeletePreset(r.Context(), name)
	if err != nil {
		slog.Error("PresetHandler: delete failed", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "Preset not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
