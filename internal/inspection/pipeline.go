package inspection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/refine"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

// Scene is everything the overlay renderer draws for one attempt.
type Scene struct {
	Calibration *CalibrationFrame
	Gasket      *detector.RegionBox
	Holes       []HoleObservation
	Metrics     *MetricsResult
	Notches     []Notch
	DieCenter   *geometry.Point2D
	Options     config.RenderConfig
}

// Renderer draws a Scene over the frame and returns the encoded image.
type Renderer interface {
	Render(frame *gocv.Mat, scene Scene) ([]byte, error)
}

// Analyzer runs inspection attempts. Fiducial, Gasket, Holes, Templates and
// Config are required; the rest are optional.
type Analyzer struct {
	Config     config.Provider
	Templates  TemplateSource
	References ReferenceSource

	Fiducial detector.FiducialDetector
	Gasket   detector.ObjectDetector
	Holes    detector.FeatureDetector
	// Refiner defaults to a blue ColorRefiner built from the vision
	// settings of each attempt.
	Refiner  refine.Refiner
	Renderer Renderer
	Observer Observer
	Logger   *slog.Logger
}

func (a *Analyzer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// attempt holds the per-attempt state of AnalyzeFrame.
type attempt struct {
	n        int
	settings *config.Settings
	tpl      *Template
	data     *Result
	obs      *attemptObserver
	log      *slog.Logger
}

// fail ends the attempt. Data keeps whatever was accumulated.
func (at *attempt) fail(err error) AttemptResult {
	at.data.Error = err.Error()
	at.obs.emit(StageFailed, at.data, err.Error())
	at.log.Info("attempt failed", "error", err)
	return AttemptResult{Attempt: at.n, Data: at.data, Err: err}
}

// bare ends the attempt with a missing-prerequisite error: the data carries
// only the error marker.
func (at *attempt) bare(err error) AttemptResult {
	at.data = newResult(at.n)
	if at.tpl != nil {
		at.data.Template = at.tpl.Name
	}
	return at.fail(err)
}

// AnalyzeFrame runs one attempt on frame. The stages run in a fixed order:
// calibrate, locate the gasket, locate and refine holes, check the count,
// compute metrics, check the distance, validate, place notches, render.
// The count and distance checks exit early without an image; a geometric
// validation failure still renders the overlay.
func (a *Analyzer) AnalyzeFrame(ctx context.Context, frame *gocv.Mat, n int) AttemptResult {
	at := &attempt{
		n:    n,
		data: newResult(n),
		obs:  newAttemptObserver(a.Observer, n),
		log:  a.logger().With("attempt", n),
	}

	if frame == nil || frame.Empty() {
		return at.bare(errors.New("empty frame"))
	}

	settings, err := a.Config.Snapshot()
	if err != nil {
		return at.bare(&configError{err})
	}
	at.settings = settings

	// 1. Template
	tpl, err := a.Templates.SelectedTemplate(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoTemplate) {
			err = fmt.Errorf("%w: %v", ErrNoTemplate, err)
		}
		return at.bare(err)
	}
	at.tpl = tpl
	at.data.Template = tpl.Name
	at.log = at.log.With("template", tpl.Name)

	// 2. Fiducial calibration
	cal, err := a.calibrate(ctx, frame, settings)
	if err != nil {
		return at.bare(err)
	}
	at.data.Fiducial = cal
	at.obs.emit(StageCalibrated, at.data, "")

	// 3. Gasket
	gasket, err := a.Gasket.DetectObject(ctx, frame, settings.Models.Gasket.Confidence)
	if err != nil {
		return at.bare(fmt.Errorf("%w: %v", ErrNoGasket, err))
	}
	if gasket == nil {
		return at.bare(ErrNoGasket)
	}
	bounds, ok := detector.ClampRect(gasket.Padded(settings.Vision.GasketPadding), frame.Cols(), frame.Rows())
	if !ok {
		return at.bare(fmt.Errorf("%w: box outside frame", ErrNoGasket))
	}
	at.data.Gasket = gasket
	at.obs.emit(StageGasketLocated, at.data, "")

	// 4. Holes inside the gasket crop
	crop := frame.Region(bounds)
	defer crop.Close()

	boxes, err := a.Holes.DetectFeatures(ctx, &crop, settings.Models.Holes.Confidence)
	if err != nil {
		return at.bare(fmt.Errorf("%w: %v", ErrNoHoles, err))
	}
	if len(boxes) == 0 {
		return at.bare(ErrNoHoles)
	}
	at.data.Holes = &HoleSummary{TotalDetected: len(boxes), Expected: tpl.HoleCount}
	at.obs.emit(StageHolesLocated, at.data, "")

	// 5. Count check before the refinement
	if len(boxes) != tpl.HoleCount {
		return at.countRejected(&CountMismatchError{Expected: tpl.HoleCount, Got: len(boxes)})
	}

	// 6. Refinement, rebased to frame coordinates
	at.data.Observations = a.refineHoles(at, &crop, bounds.Min, boxes)
	at.data.Holes.TotalRefined = len(at.data.Observations)
	if len(at.data.Observations) != tpl.HoleCount {
		return at.countRejected(&CountMismatchError{Expected: tpl.HoleCount, Got: len(at.data.Observations), Refined: true})
	}

	// 7. Metrics
	centers := at.data.Centers()
	metrics := ComputeMetrics(centers, cal.PxPerMM)
	at.data.Metrics = metrics
	at.data.Holes.DistancePx = metrics.DistancePx
	at.data.Holes.DistanceMM = metrics.DistanceMM
	at.obs.emit(StageMetrics, at.data, "")

	// 8. Distance tolerance
	if tpl.ExpectedSeparationMM > 0 && metrics.DistanceMM != nil {
		acc := Accuracy(*metrics.DistanceMM, tpl.ExpectedSeparationMM)
		shown := round1(acc)
		at.data.Holes.AccuracyPct = &shown
		if acc < settings.Vision.DistanceTolerancePct {
			err := &ToleranceError{
				ObservedMM:  *metrics.DistanceMM,
				ExpectedMM:  tpl.ExpectedSeparationMM,
				AccuracyPct: acc,
				RequiredPct: settings.Vision.DistanceTolerancePct,
			}
			at.data.EarlyExit = ExitDistance
			at.data.Error = err.Error()
			at.obs.emit(StageDistanceRejected, at.data, err.Error())
			return at.fail(err)
		}
	}

	// 9. Geometric validation
	report := Validate(centers, cal.PxPerMM, Thresholds{
		CenterMM:       settings.Vision.CenterToleranceMM,
		CollinearityMM: settings.Vision.CollinearityToleranceMM,
		SpacingCVMax:   settings.Vision.SpacingCVMax,
	})
	at.data.Validation = report
	at.obs.emit(StageValidated, at.data, report.Error)

	// 10. Notches, only for a valid part
	var die *geometry.Point2D
	if report.AllOK {
		angle := cal.AngleRad
		if settings.Vision.NotchOrientation == config.NotchOrientationSegment && metrics.AngleRad != nil {
			angle = *metrics.AngleRad
		}
		placement := PlaceNotches(metrics.Midpoint, cal, angle, tpl.Notches, settings.Vision.NotchRadiusMM)
		at.data.Notches = placement.Notches

		dieOffset := geometry.Pt(settings.Aruco.CenterXMM, settings.Aruco.CenterYMM)
		at.data.Offset = ComputeOffset(cal, dieOffset, angle, placement.Notches)
		if at.data.Offset != nil {
			d := at.data.Offset.DieCenter
			die = &d
		}
		at.obs.emit(StageNotchesPlaced, at.data, "")
	}

	// 11. Overlay
	result := AttemptResult{Attempt: n, Success: report.AllOK, Data: at.data}
	if a.Renderer != nil {
		img, err := a.Renderer.Render(frame, Scene{
			Calibration: cal,
			Gasket:      gasket,
			Holes:       at.data.Observations,
			Metrics:     metrics,
			Notches:     at.data.Notches,
			DieCenter:   die,
			Options:     settings.Render,
		})
		if err != nil {
			at.log.Error("rendering overlay failed", "error", err)
		} else {
			result.Image = img
			at.obs.emit(StageRendered, at.data, "")
		}
	}

	if !report.AllOK {
		reason := ErrGeometryRejected
		if report.Error != "" {
			reason = fmt.Errorf("%w: %s", ErrGeometryRejected, report.Error)
		}
		failed := at.fail(reason)
		failed.Image = result.Image
		return failed
	}

	at.obs.emit(StageSucceeded, at.data, "")
	at.log.Info("attempt succeeded",
		"holes", len(at.data.Observations),
		"distance_mm", metrics.DistanceMM,
		"notches", len(at.data.Notches))
	return result
}

func (at *attempt) countRejected(err *CountMismatchError) AttemptResult {
	at.data.EarlyExit = ExitHoleCount
	at.data.Error = err.Error()
	at.obs.emit(StageCountRejected, at.data, err.Error())
	return at.fail(err)
}

// calibrate returns the saved reference when configured and available,
// otherwise the detected fiducial.
func (a *Analyzer) calibrate(ctx context.Context, frame *gocv.Mat, s *config.Settings) (*CalibrationFrame, error) {
	if s.Aruco.UseSavedReference && a.References != nil {
		ref, err := a.References.FiducialReference(ctx)
		if err != nil {
			a.logger().Warn("loading fiducial reference failed, detecting instead", "error", err)
		} else if ref != nil {
			r := *ref
			r.FromReference = true
			return &r, nil
		}
	}

	det, err := a.Fiducial.Detect(ctx, frame, FiducialQueryFrom(s.Aruco))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFiducial, err)
	}
	if det == nil {
		return nil, ErrNoFiducial
	}
	return calibrationFrom(det), nil
}

// FiducialQueryFrom builds the detector query for the frame marker.
func FiducialQueryFrom(c config.ArucoConfig) detector.FiducialQuery {
	return detector.FiducialQuery{
		TargetID:     c.FrameMarkerID,
		DictionaryID: c.DictionaryID,
		MarkerBits:   c.MarkerBits,
		SizeMM:       c.MarkerSizeMM,
	}
}

// refineHoles refines every hole box inside the gasket crop. Holes that
// cannot be refined are logged and skipped.
func (a *Analyzer) refineHoles(at *attempt, crop *gocv.Mat, origin image.Point, boxes []detector.RegionBox) []HoleObservation {
	r := a.Refiner
	if r == nil {
		r = &refine.ColorRefiner{
			Channel:   refine.Blue,
			Dominance: at.settings.Vision.DominanceFactor,
			MinArea:   at.settings.Vision.MinContourArea,
		}
	}

	offset := geometry.FromImagePoint(origin)
	var out []HoleObservation
	for i, box := range boxes {
		rect, ok := detector.ClampRect(box.Bounds(), crop.Cols(), crop.Rows())
		if !ok {
			at.log.Warn("hole box outside gasket crop", "hole", i)
			continue
		}

		hole := crop.Region(rect)
		res := r.Refine(&hole)
		hole.Close()

		refined, ok := res.Refined()
		if !ok {
			at.log.Warn("hole not refined", "hole", i, "reason", res.Reason())
			continue
		}

		global := refined.Translate(rect.Min.Add(origin))
		out = append(out, HoleObservation{
			Index:   i,
			Center:  global.Center,
			Box:     box.Translate(offset.X, offset.Y),
			Contour: global.Contour,
			Ellipse: global.Ellipse,
		})
	}
	return out
}
