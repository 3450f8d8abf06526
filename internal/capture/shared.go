package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// sharedCamera serializes access to a camera used by both the preview
// stream and the inspection source.
type sharedCamera struct {
	mu  sync.Mutex
	cam Camera
}

// Shared wraps cam so it can be used from several goroutines.
func Shared(cam Camera) Camera {
	if s, ok := cam.(*sharedCamera); ok {
		return s
	}
	return &sharedCamera{cam: cam}
}

// Open opens the camera unless it is already open.
func (s *sharedCamera) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam.IsOpen() {
		return nil
	}
	return s.cam.Open()
}

func (s *sharedCamera) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam.Close()
}

func (s *sharedCamera) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam.ReadFrame()
}

func (s *sharedCamera) SetFPS(fps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cam.SetFPS(fps)
}

func (s *sharedCamera) FPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam.FPS()
}

func (s *sharedCamera) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam.IsOpen()
}
