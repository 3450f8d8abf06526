package config

import (
	"errors"
	"fmt"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the settings the inspection pipeline depends on.
func (s *Settings) Validate() error {
	var errs []error

	if s.Aruco.MarkerSizeMM <= 0 {
		errs = append(errs, fmt.Errorf("aruco.marker_size_mm must be positive, got %v", s.Aruco.MarkerSizeMM))
	}
	if s.Aruco.MarkerBits < 4 || s.Aruco.MarkerBits > 7 {
		errs = append(errs, fmt.Errorf("aruco.marker_bits must be between 4 and 7, got %d", s.Aruco.MarkerBits))
	}
	switch s.Aruco.DictionaryID {
	case 50, 100, 250, 1000:
	default:
		errs = append(errs, fmt.Errorf("aruco.dictionary_id must be 50, 100, 250 or 1000, got %d", s.Aruco.DictionaryID))
	}
	if s.Vision.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("vision.max_attempts must be positive, got %d", s.Vision.MaxAttempts))
	}
	if s.Vision.DistanceTolerancePct <= 0 || s.Vision.DistanceTolerancePct > 100 {
		errs = append(errs, fmt.Errorf("vision.distance_tolerance_pct must be in (0, 100], got %v", s.Vision.DistanceTolerancePct))
	}
	if s.Vision.DominanceFactor <= 0 {
		errs = append(errs, fmt.Errorf("vision.dominance_factor must be positive, got %v", s.Vision.DominanceFactor))
	}
	if s.Vision.GasketPadding < 0 {
		errs = append(errs, fmt.Errorf("vision.gasket_padding must not be negative, got %v", s.Vision.GasketPadding))
	}
	switch s.Vision.NotchOrientation {
	case NotchOrientationFiducial, NotchOrientationSegment:
	default:
		errs = append(errs, fmt.Errorf("vision.notch_orientation must be %q or %q, got %q",
			NotchOrientationFiducial, NotchOrientationSegment, s.Vision.NotchOrientation))
	}
	if s.Render.JPEGQuality < 1 || s.Render.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("render.jpeg_quality must be between 1 and 100, got %d", s.Render.JPEGQuality))
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
