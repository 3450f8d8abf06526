package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/gasketvision/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// InspectionHandler serves the inspection history.
type InspectionHandler struct {
	store *store.Store
}

// NewInspectionHandler creates an InspectionHandler backed by s.
func NewInspectionHandler(s *store.Store) *InspectionHandler {
	return &InspectionHandler{store: s}
}

type listInspectionsResponse struct {
	Inspections []*store.Inspection `json:"inspections"`
}

// ServeHTTP handles GET /api/inspections[?limit=n] and
// GET /api/inspections/{id}.
func (h *InspectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/inspections"), "/")
	if id != "" {
		in, err := h.store.Inspections().Get(id)
		if err != nil {
			writeStoreError(w, err, "Inspection not found", "Failed to get inspection")
			return
		}
		writeJSON(w, http.StatusOK, in)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	list, err := h.store.Inspections().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list inspections")
		return
	}
	if list == nil {
		list = []*store.Inspection{}
	}
	writeJSON(w, http.StatusOK, listInspectionsResponse{Inspections: list})
}
