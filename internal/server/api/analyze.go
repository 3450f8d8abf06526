package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/gasketvision/internal/inspection"
)

// AnalyzeHandler serves /api/analyze and /api/analyze/result.
type AnalyzeHandler struct {
	inspector Inspector
}

// NewAnalyzeHandler creates an AnalyzeHandler.
func NewAnalyzeHandler(i Inspector) *AnalyzeHandler {
	return &AnalyzeHandler{inspector: i}
}

type analyzeResponse struct {
	OK       bool               `json:"ok"`
	Success  bool               `json:"analisis_exitoso"`
	Attempts int                `json:"attempts"`
	Error    string             `json:"error,omitempty"`
	Data     *inspection.Result `json:"data"`
}

type resultResponse struct {
	Image string             `json:"image"`
	Data  *inspection.Result `json:"data"`
}

// ServeHTTP implements http.Handler.
func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/analyze"), "/")
	switch {
	case path == "" && r.Method == http.MethodPost:
		h.analyze(w, r)
	case path == "result" && r.Method == http.MethodGet:
		h.result(w, r)
	case path == "" || path == "result":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// analyze runs the bounded retries. A rejected part is a 200 with
// analisis_exitoso false; only infrastructure failures are errors.
func (h *AnalyzeHandler) analyze(w http.ResponseWriter, r *http.Request) {
	out, err := h.inspector.Inspect(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, inspection.ErrNoTemplate) {
			status = http.StatusConflict
		}
		writeJSON(w, status, analyzeResponse{Error: err.Error()})
		return
	}

	resp := analyzeResponse{
		OK:       true,
		Success:  out.Success,
		Attempts: out.Attempts,
		Data:     out.Data,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// result returns the last overlay as image/jpeg, or as a data URI with
// the result when format=base64.
func (h *AnalyzeHandler) result(w http.ResponseWriter, r *http.Request) {
	img, data := h.inspector.Last()
	if img == nil {
		writeError(w, http.StatusNotFound, "No inspection result yet")
		return
	}

	if r.URL.Query().Get("format") == "base64" {
		writeJSON(w, http.StatusOK, resultResponse{
			Image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			Data:  data,
		})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
