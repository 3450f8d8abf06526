// Package api provides the HTTP handlers of the inspection service.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/store"
)

// Inspector runs inspections and keeps the latest result.
type Inspector interface {
	Inspect(ctx context.Context) (inspection.Outcome, error)
	// Last returns the overlay and data of the most recent inspection;
	// both are nil before the first one.
	Last() ([]byte, *inspection.Result)
	CaptureReference(ctx context.Context) (*store.Reference, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
