// Package hooks runs site-provided executables after each inspection.
package hooks

import "encoding/json"

// Events a hook can subscribe to.
const (
	EventPassed = "inspection.passed"
	EventFailed = "inspection.failed"
)

// Manifest describes a hook and the events it handles. It is read from
// hook.json in the hook's directory.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Events      []string `json:"events"`
}

// Request is written to the hook's stdin.
type Request struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Template  string          `json:"template,omitempty"`
	Attempts  int             `json:"attempts"`
	Data      json.RawMessage `json:"data"`
}

// Response is what a hook prints on stdout. An empty stdout counts as
// success.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the hook subscribed to event.
func (h *Hook) Handles(event string) bool {
	for _, e := range h.Manifest.Events {
		if e == event {
			return true
		}
	}
	return false
}
