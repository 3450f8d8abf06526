package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/gasketvision/internal/capture"
	"github.com/ayusman/gasketvision/internal/render"
)

// streamInterval paces the preview at about 10 FPS.
const streamInterval = 100 * time.Millisecond

// StreamHandler serves MJPEG frames from the camera.
type StreamHandler struct {
	camera  capture.Camera
	quality int
}

// NewStreamHandler creates a new StreamHandler with the given camera.
func NewStreamHandler(camera capture.Camera, quality int) *StreamHandler {
	return &StreamHandler{camera: camera, quality: quality}
}

// ServeHTTP streams MJPEG frames until the client disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.camera.IsOpen() {
		if err := h.camera.Open(); err != nil {
			http.Error(w, "Camera not available", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, err := h.camera.ReadFrame()
		if err != nil {
			continue
		}
		buf, err := render.Encode(*frame, h.quality)
		frame.Close()
		if err != nil {
			continue
		}

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(buf)); err != nil {
			return
		}
		if _, err := w.Write(buf); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
