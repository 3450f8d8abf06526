package capture

import (
	"context"
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/config"
)

// Source supplies inspection frames: it opens the camera on first use and
// waits for the scene to settle before handing out a frame.
type Source struct {
	cam          Camera
	motion       *MotionDetector
	settleFrames int
	logger       *slog.Logger
}

// NewSource wraps cam with the stillness gate configured in cfg. A zero
// settle threshold disables the gate.
func NewSource(cam Camera, cfg config.CameraConfig, logger *slog.Logger) *Source {
	s := &Source{cam: cam, settleFrames: cfg.SettleMaxFrames, logger: logger}
	if cfg.SettleThresholdPct > 0 {
		s.motion = NewMotionDetector(cfg.SettleThresholdPct)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Camera returns the wrapped camera.
func (s *Source) Camera() Camera {
	return s.cam
}

// NextFrame returns a settled frame. A frame taken while the scene was
// still moving is returned anyway and logged.
func (s *Source) NextFrame(ctx context.Context) (*gocv.Mat, error) {
	if !s.cam.IsOpen() {
		if err := s.cam.Open(); err != nil {
			return nil, err
		}
	}

	frame, settled, err := ReadStillFrame(ctx, s.cam, s.motion, s.settleFrames)
	if err != nil {
		return nil, fmt.Errorf("capturing frame: %w", err)
	}
	if !settled {
		s.logger.Warn("scene did not settle, using last frame", "frames", s.settleFrames)
	}
	return frame, nil
}

// Close releases the camera and the motion detector.
func (s *Source) Close() error {
	if s.motion != nil {
		s.motion.Close()
	}
	return s.cam.Close()
}
