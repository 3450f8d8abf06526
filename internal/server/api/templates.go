package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/gasketvision/internal/store"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

// TemplateHandler serves /api/templates.
type TemplateHandler struct {
	store *store.Store
}

// NewTemplateHandler creates a TemplateHandler backed by s.
func NewTemplateHandler(s *store.Store) *TemplateHandler {
	return &TemplateHandler{store: s}
}

// ServeHTTP routes:
//
//	GET, POST          /api/templates
//	GET                /api/templates/selected
//	GET, PUT, DELETE   /api/templates/{id}
//	POST               /api/templates/{id}/select
func (h *TemplateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/templates")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if path == "selected" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.selected(w)
		return
	}

	if id, ok := strings.CutSuffix(path, "/select"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.selectTemplate(w, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, path)
	case http.MethodPut:
		h.update(w, r, path)
	case http.MethodDelete:
		h.delete(w, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type templateRequest struct {
	Name                 string             `json:"name"`
	HoleCount            int                `json:"hole_count"`
	ExpectedSeparationMM float64            `json:"expected_separation_mm"`
	Notches              []geometry.Point2D `json:"notches"`
}

func (req *templateRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return "Name is required"
	case req.HoleCount < 2:
		return "hole_count must be at least 2"
	case req.ExpectedSeparationMM < 0:
		return "expected_separation_mm must not be negative"
	}
	return ""
}

type listTemplatesResponse struct {
	Templates  []*store.Template `json:"templates"`
	SelectedID string            `json:"selected_id,omitempty"`
}

func (h *TemplateHandler) list(w http.ResponseWriter) {
	templates, err := h.store.Templates().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	resp := listTemplatesResponse{Templates: templates}
	if resp.Templates == nil {
		resp.Templates = []*store.Template{}
	}
	if sel, err := h.store.Templates().Selected(); err == nil {
		resp.SelectedID = sel.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TemplateHandler) get(w http.ResponseWriter, id string) {
	t, err := h.store.Templates().Get(id)
	if err != nil {
		writeStoreError(w, err, "Template not found", "Failed to get template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TemplateHandler) selected(w http.ResponseWriter) {
	t, err := h.store.Templates().Selected()
	if err != nil {
		writeStoreError(w, err, "No template selected", "Failed to get selected template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TemplateHandler) create(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	t := &store.Template{
		Name:                 strings.TrimSpace(req.Name),
		HoleCount:            req.HoleCount,
		ExpectedSeparationMM: req.ExpectedSeparationMM,
		Notches:              req.Notches,
	}
	if err := h.store.Templates().Create(t); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "Template name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TemplateHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := h.store.Templates().Get(id)
	if err != nil {
		writeStoreError(w, err, "Template not found", "Failed to get template")
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing.Name = strings.TrimSpace(req.Name)
	existing.HoleCount = req.HoleCount
	existing.ExpectedSeparationMM = req.ExpectedSeparationMM
	if req.Notches != nil {
		existing.Notches = req.Notches
	}
	if err := h.store.Templates().Update(existing); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "Template name already exists")
			return
		}
		writeStoreError(w, err, "Template not found", "Failed to update template")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *TemplateHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Templates().Delete(id); err != nil {
		writeStoreError(w, err, "Template not found", "Failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TemplateHandler) selectTemplate(w http.ResponseWriter, id string) {
	if err := h.store.Templates().Select(id); err != nil {
		writeStoreError(w, err, "Template not found", "Failed to select template")
		return
	}
	t, err := h.store.Templates().Get(id)
	if err != nil {
		writeStoreError(w, err, "Template not found", "Failed to get template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeStoreError(w http.ResponseWriter, err error, notFound, internal string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeError(w, http.StatusInternalServerError, internal)
}
