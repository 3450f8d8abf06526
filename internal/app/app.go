// Package app wires the inspection service: camera, detectors, analyzer,
// store, metrics, hooks and event observers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/hooks"
	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/metrics"
	"github.com/ayusman/gasketvision/internal/refine"
	"github.com/ayusman/gasketvision/internal/render"
	"github.com/ayusman/gasketvision/internal/store"
)

// ErrNoCamera is returned by operations that need a frame source when the
// app was built without one.
var ErrNoCamera = errors.New("no camera configured")

// Config holds the collaborators of an App. Settings, Store and Detectors
// are required.
type Config struct {
	Settings  config.Provider
	Store     *store.Store
	Detectors *detector.Set
	// Source supplies frames for Inspect and CaptureReference.
	Source inspection.FrameSource
	// Refiner and Renderer default to the color refiner and the overlay
	// renderer.
	Refiner  refine.Refiner
	Renderer inspection.Renderer
	Metrics  *metrics.Collector
	Hooks    *hooks.Manager
	// Observers receive every pipeline checkpoint, after metrics.
	Observers []inspection.Observer
	Logger    *slog.Logger
}

// App is the inspection orchestrator. Inspections run one at a time.
type App struct {
	config   Config
	analyzer *inspection.Analyzer
	logger   *slog.Logger

	// inspectMu serializes inspections and reference captures, which
	// share the camera and the detectors.
	inspectMu sync.Mutex

	lastMu    sync.RWMutex
	lastImage []byte
	lastData  *inspection.Result

	hookWG sync.WaitGroup
}

// New creates an App from cfg.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil || cfg.Store == nil || cfg.Detectors == nil {
		return nil, errors.New("app: settings, store and detectors are required")
	}
	if cfg.Detectors.Fiducial == nil || cfg.Detectors.Gasket == nil || cfg.Detectors.Holes == nil {
		return nil, errors.New("app: fiducial, gasket and hole detectors are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New()
	}

	observers := inspection.MultiObserver{}
	if cfg.Metrics != nil {
		observers = append(observers, cfg.Metrics)
	}
	observers = append(observers, cfg.Observers...)

	a := &App{
		config: cfg,
		logger: logger.With("service", "app"),
		analyzer: &inspection.Analyzer{
			Config:     cfg.Settings,
			Templates:  cfg.Store.TemplateSource(),
			References: cfg.Store.ReferenceSource(),
			Fiducial:   cfg.Detectors.Fiducial,
			Gasket:     cfg.Detectors.Gasket,
			Holes:      cfg.Detectors.Holes,
			Refiner:    cfg.Refiner,
			Renderer:   cfg.Renderer,
			Observer:   observers,
			Logger:     logger.With("service", "inspection"),
		},
	}
	return a, nil
}

// Analyzer returns the underlying analyzer.
func (a *App) Analyzer() *inspection.Analyzer {
	return a.analyzer
}

// Last returns the overlay image and data of the most recent inspection.
func (a *App) Last() ([]byte, *inspection.Result) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.lastImage, a.lastData
}

// SelectTemplate makes the template called name the active one.
func (a *App) SelectTemplate(_ context.Context, name string) error {
	t, err := a.config.Store.Templates().GetByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("template %q not found", name)
	}
	if err != nil {
		return err
	}
	if err := a.config.Store.Templates().Select(t.ID); err != nil {
		return err
	}
	a.logger.Info("template selected", "template", t.Name, "id", t.ID)
	return nil
}

// CaptureReference detects the fiducial on a fresh frame and saves it as
// the reference calibration.
func (a *App) CaptureReference(ctx context.Context) (*store.Reference, error) {
	if a.config.Source == nil {
		return nil, ErrNoCamera
	}

	a.inspectMu.Lock()
	defer a.inspectMu.Unlock()

	frame, err := a.config.Source.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	defer frame.Close()
	return a.captureReference(ctx, frame)
}

func (a *App) captureReference(ctx context.Context, frame *gocv.Mat) (*store.Reference, error) {
	s, err := a.config.Settings.Snapshot()
	if err != nil {
		return nil, err
	}
	det, err := a.config.Detectors.Fiducial.Detect(ctx, frame, inspection.FiducialQueryFrom(s.Aruco))
	if err != nil {
		return nil, fmt.Errorf("detecting fiducial: %w", err)
	}
	if det == nil || det.PxPerMM <= 0 {
		return nil, inspection.ErrNoFiducial
	}

	ref, err := a.config.Store.References().Save(inspection.CalibrationFrame{
		MarkerID: det.ID,
		PxPerMM:  det.PxPerMM,
		AngleRad: det.AngleRad,
		Center:   det.Center,
		Corners:  det.Corners,
	})
	if err != nil {
		return nil, fmt.Errorf("saving reference: %w", err)
	}
	a.logger.Info("fiducial reference saved", "px_per_mm", det.PxPerMM, "angle_rad", det.AngleRad)
	return ref, nil
}

// Close waits for running hooks. The collaborators are owned by the
// caller.
func (a *App) Close() {
	a.hookWG.Wait()
}
