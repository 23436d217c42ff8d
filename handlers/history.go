package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	historysvc "kinocast/services/history"
)

type historyService interface {
	Recent(limit int) ([]historysvc.Record, error)
	Clear(entryID string) error
}

var _ historyService = (*historysvc.Service)(nil)

// HistoryHandler exposes the watch history.
type HistoryHandler struct {
	Service historyService
}

func NewHistoryHandler(s historyService) *HistoryHandler {
	return &HistoryHandler{Service: s}
}

func (h *HistoryHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Recent lists the most recently watched episodes, newest first.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.Service.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []historysvc.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Clear drops every history row for a catalog entry.
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entryID"]
	if err := h.Service.Clear(entryID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
