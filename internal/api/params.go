package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"designsync/pkg/params"
)

// ParamsController is the parent's canonical parameter state.
type ParamsController interface {
	Params() params.Set
	Query() string
	Tracked() []params.Key
	Navigate(ctx context.Context, query string) params.Set
	SetParam(ctx context.Context, key params.Key, raw string) (params.Set, error)
}

// ParamsHandler serves the canonical parameter set.
type ParamsHandler struct {
	parent ParamsController
}

// NewParamsHandler creates a new ParamsHandler.
func NewParamsHandler(parent ParamsController) *ParamsHandler {
	return &ParamsHandler{parent: parent}
}

// ParamsResponse is the canonical set as typed values plus its query string.
type ParamsResponse struct {
	Query   string         `json:"query"`
	Params  map[string]any `json:"params"`
	Tracked []string       `json:"tracked"`
}

// NavigateRequest replaces the whole set, like loading a URL.
type NavigateRequest struct {
	Query string `json:"query"`
}

// SetParamRequest writes one parameter, like a picker does.
type SetParamRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// HandleGet returns the canonical set.
// GET /api/params
func (h *ParamsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.parent.Params())
}

// HandleNavigate replaces the canonical set from a query string. Invalid
// values fall back to their defaults.
// PUT /api/params
func (h *ParamsHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.respond(w, h.parent.Navigate(r.Context(), req.Query))
}

// HandleSet validates and writes a single parameter.
// PATCH /api/params
func (h *ParamsHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req SetParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key := params.Key(req.Key)
	raw, err := params.FromNative(key, req.Value)
	if err == nil {
		_, err = h.parent.SetParam(r.Context(), key, raw)
	}
	switch {
	case errors.Is(err, params.ErrUnknownKey), errors.Is(err, params.ErrInvalidValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("ParamsHandler: set failed", "key", req.Key, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.respond(w, h.parent.Params())
}

func (h *ParamsHandler) respond(w http.ResponseWriter, set params.Set) {
	resp := ParamsResponse{
		Query:  set.Encode(),
		Params: make(map[string]any, len(params.Keys())),
	}
	for _, k := range params.Keys() {
		resp.Params[string(k)] = set.Native(k)
	}
	for _, k := range h.parent.Tracked() {
		resp.Tracked = append(resp.Tracked, string(k))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode params", "error", err)
	}
}
