package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"kinocast/models"
	playbacksvc "kinocast/services/playback"
	"kinocast/services/renderer"
	"kinocast/services/shell"
)

type playerService interface {
	Create(entry models.CatalogEntry) (string, *shell.Shell, error)
	Get(id string) (*shell.Shell, error)
	Close(id string) error
}

var _ playerService = (*playbacksvc.Manager)(nil)

// PlayerHandler exposes the server-hosted player instances over the API.
type PlayerHandler struct {
	Service playerService
}

func NewPlayerHandler(s playerService) *PlayerHandler {
	return &PlayerHandler{Service: s}
}

func (h *PlayerHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Create spins up a player for the posted catalog entry.
func (h *PlayerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var entry models.CatalogEntry
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, sh, err := h.Service.Create(entry)
	if err != nil {
		if errors.Is(err, playbacksvc.ErrEntryRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("[player-handler] create failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		ID   string     `json:"id"`
		View shell.View `json:"view"`
	}{ID: id, View: sh.View()})
}

// State reports the composite player view.
func (h *PlayerHandler) State(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sh.View())
}

// Delete tears the player down.
func (h *PlayerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["playerID"]
	if err := h.Service.Close(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectTranslation switches the translation picker.
func (h *PlayerHandler) SelectTranslation(w http.ResponseWriter, r *http.Request) {
	h.withIndex(w, r, func(sh *shell.Shell, idx int) { sh.SelectTranslation(idx) })
}

// SelectSeason switches the season picker.
func (h *PlayerHandler) SelectSeason(w http.ResponseWriter, r *http.Request) {
	h.withIndex(w, r, func(sh *shell.Shell, idx int) { sh.SelectSeason(idx) })
}

// SelectEpisode switches the episode picker.
func (h *PlayerHandler) SelectEpisode(w http.ResponseWriter, r *http.Request) {
	h.withIndex(w, r, func(sh *shell.Shell, idx int) { sh.SelectEpisode(idx) })
}

// SetMode switches between the embedded frame and direct playback.
func (h *PlayerHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Mode models.SourceMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Mode != models.SourceModeIframe && request.Mode != models.SourceModeDirect {
		http.Error(w, "mode must be \"iframe\" or \"direct\"", http.StatusBadRequest)
		return
	}

	sh.SetSourceMode(request.Mode)
	writeJSON(w, http.StatusOK, sh.View())
}

// SetAutoAdvance toggles advancing to the next episode on ended.
func (h *PlayerHandler) SetAutoAdvance(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sh.SetAutoAdvance(request.Enabled)
	writeJSON(w, http.StatusOK, sh.View())
}

// Key feeds one keyboard event into the player.
func (h *PlayerHandler) Key(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Key           string `json:"key"`
		FromTextInput bool   `json:"fromTextInput"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	handled := sh.HandleKey(request.Key, request.FromTextInput)
	writeJSON(w, http.StatusOK, struct {
		Handled bool       `json:"handled"`
		View    shell.View `json:"view"`
	}{Handled: handled, View: sh.View()})
}

// SwitchQuality rebuilds the pipeline on another quality tier.
func (h *PlayerHandler) SwitchQuality(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Label int `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sh.SwitchQuality(request.Label); err != nil {
		switch {
		case errors.Is(err, renderer.ErrUnknownQuality):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, renderer.ErrNoDescriptor):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, sh.View())
}

// Skip jumps past the active segment.
func (h *PlayerHandler) Skip(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	if err := sh.Skip(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, sh.View())
}

// Play resumes playback.
func (h *PlayerHandler) Play(w http.ResponseWriter, r *http.Request) {
	h.withShell(w, r, func(sh *shell.Shell) { sh.Play() })
}

// Pause halts playback.
func (h *PlayerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.withShell(w, r, func(sh *shell.Shell) { sh.Pause() })
}

// Seek moves the playhead.
func (h *PlayerHandler) Seek(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sh.Seek(request.Seconds)
	writeJSON(w, http.StatusOK, sh.View())
}

// SetMuted toggles audio.
func (h *PlayerHandler) SetMuted(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sh.SetMuted(request.Muted)
	writeJSON(w, http.StatusOK, sh.View())
}

// Search fuzzy-matches a query against the player's pickers.
func (h *PlayerHandler) Search(w http.ResponseWriter, r *http.Request) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	results := sh.Search(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, struct {
		Results []shell.SearchResult `json:"results"`
	}{Results: results})
}

func (h *PlayerHandler) withIndex(w http.ResponseWriter, r *http.Request, apply func(sh *shell.Shell, idx int)) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}

	var request struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Index < 0 {
		http.Error(w, "index must not be negative", http.StatusBadRequest)
		return
	}

	apply(sh, request.Index)
	writeJSON(w, http.StatusOK, sh.View())
}

func (h *PlayerHandler) withShell(w http.ResponseWriter, r *http.Request, apply func(sh *shell.Shell)) {
	sh, ok := h.player(w, r)
	if !ok {
		return
	}
	apply(sh)
	writeJSON(w, http.StatusOK, sh.View())
}

func (h *PlayerHandler) player(w http.ResponseWriter, r *http.Request) (*shell.Shell, bool) {
	id := mux.Vars(r)["playerID"]
	sh, err := h.Service.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return sh, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[player-handler] encode response: %v", err)
	}
}
