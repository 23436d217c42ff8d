package handlers

import (
	"encoding/json"
	"net/http"

	"kinocast/config"
)

// SettingsHandler reads and writes the persisted application settings.
type SettingsHandler struct {
	Manager *config.Manager
}

func NewSettingsHandler(m *config.Manager) *SettingsHandler {
	return &SettingsHandler{Manager: m}
}

func (h *SettingsHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// GetSettings returns the current settings. The PIN hash never leaves the
// server.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.Security.PinHash = ""
	writeJSON(w, http.StatusOK, s)
}

// PutSettings replaces the persisted settings. The PIN hash is carried over
// from the stored settings so clients cannot overwrite it.
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.Manager.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var incoming config.Settings
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&incoming); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	incoming.Security.PinHash = current.Security.PinHash
	if err := h.Manager.Save(incoming); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	incoming.Security.PinHash = ""
	writeJSON(w, http.StatusOK, incoming)
}
