package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/store"
)

// ReferenceHandler serves /api/reference, the saved fiducial calibration.
type ReferenceHandler struct {
	store     *store.Store
	inspector Inspector
}

// NewReferenceHandler creates a ReferenceHandler. inspector may be nil,
// in which case capturing is unavailable.
func NewReferenceHandler(s *store.Store, i Inspector) *ReferenceHandler {
	return &ReferenceHandler{store: s, inspector: i}
}

// ServeHTTP handles GET (saved reference), POST (capture from the camera)
// and DELETE (forget).
func (h *ReferenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ref, err := h.store.References().Get()
		if err != nil {
			writeStoreError(w, err, "No reference saved", "Failed to get reference")
			return
		}
		writeJSON(w, http.StatusOK, ref)

	case http.MethodPost:
		if h.inspector == nil {
			writeError(w, http.StatusServiceUnavailable, "Camera not available")
			return
		}
		ref, err := h.inspector.CaptureReference(r.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, inspection.ErrNoFiducial) {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, ref)

	case http.MethodDelete:
		if err := h.store.References().Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to clear reference")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
