package detector

import (
	"errors"
	"fmt"
	"io"

	"github.com/ayusman/gasketvision/internal/config"
)

// Set holds the detectors used by one inspection pipeline.
type Set struct {
	Fiducial FiducialDetector
	Gasket   ObjectDetector
	Holes    FeatureDetector

	closers []io.Closer
}

// Open builds detectors from the model settings. Backends are "onnx"
// (OpenCV DNN), "service" (external process shared by both models) and
// "none", which leaves the detector nil for the caller to fill.
func Open(models config.ModelsConfig) (*Set, error) {
	s := &Set{Fiducial: NewArucoDetector()}
	s.closers = append(s.closers, s.Fiducial)

	var svc *ServiceDetector
	service := func() (*ServiceDetector, error) {
		if svc != nil {
			return svc, nil
		}
		var err error
		svc, err = NewServiceDetector(ServiceConfig{
			Command:     models.Service.Command,
			Args:        models.Service.Args,
			Timeout:     models.Service.Timeout,
			IdleTimeout: models.Service.IdleTimeout,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, svc)
		return svc, nil
	}

	switch models.Gasket.Backend {
	case "onnx":
		d, err := NewYOLODetector(yoloConfig(models.Gasket))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("gasket model: %w", err)
		}
		s.Gasket = d
		s.closers = append(s.closers, d)
	case "service":
		d, err := service()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("gasket model: %w", err)
		}
		s.Gasket = d.Object()
	case "none", "":
	default:
		s.Close()
		return nil, fmt.Errorf("unknown gasket backend %q", models.Gasket.Backend)
	}

	switch models.Holes.Backend {
	case "onnx":
		d, err := NewYOLODetector(yoloConfig(models.Holes))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("holes model: %w", err)
		}
		s.Holes = d
		s.closers = append(s.closers, d)
	case "service":
		d, err := service()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("holes model: %w", err)
		}
		s.Holes = d.Features()
	case "none", "":
	default:
		s.Close()
		return nil, fmt.Errorf("unknown holes backend %q", models.Holes.Backend)
	}

	return s, nil
}

// Close releases every detector the Set created.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func yoloConfig(m config.ModelConfig) YOLOConfig {
	c := DefaultYOLOConfig()
	c.ModelPath = m.Path
	c.Oriented = m.Oriented
	if m.InputSize > 0 {
		c.InputSize = m.InputSize
	}
	if m.NMS > 0 {
		c.NMSThreshold = m.NMS
	}
	c.ClassID = m.ClassID
	return c
}
