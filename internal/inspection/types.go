// Package inspection implements the gasket inspection pipeline: fiducial
// calibration, gasket and hole localization, hole refinement, metrics,
// geometric validation and notch placement, wrapped in a bounded retry
// loop.
package inspection

import (
	"context"
	"image"

	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/refine"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

// CalibrationFrame is the scale and orientation of one attempt, derived
// from the fiducial marker. It is not modified after creation.
type CalibrationFrame struct {
	MarkerID      int                 `json:"id"`
	PxPerMM       float64             `json:"px_per_mm"`
	AngleRad      float64             `json:"angle_rad"`
	Center        geometry.Point2D    `json:"center"`
	Corners       [4]geometry.Point2D `json:"corners"`
	FromReference bool                `json:"saved_reference,omitempty"`
}

// Calibrated reports whether pixel/mm conversion is possible.
func (c *CalibrationFrame) Calibrated() bool {
	return c != nil && c.PxPerMM > 0
}

func calibrationFrom(d *detector.FiducialDetection) *CalibrationFrame {
	return &CalibrationFrame{
		MarkerID: d.ID,
		PxPerMM:  d.PxPerMM,
		AngleRad: d.AngleRad,
		Center:   d.Center,
		Corners:  d.Corners,
	}
}

// HoleObservation is one refined hole in global frame coordinates.
type HoleObservation struct {
	Index   int                `json:"index"`
	Center  geometry.Point2D   `json:"center"`
	Box     detector.RegionBox `json:"box"`
	Contour []image.Point      `json:"contour,omitempty"`
	Ellipse *refine.Ellipse    `json:"ellipse,omitempty"`
}

// HoleSummary carries the hole count and, once computed, the extremes
// distance.
type HoleSummary struct {
	TotalDetected int      `json:"total_detected"`
	TotalRefined  int      `json:"total_refined"`
	Expected      int      `json:"expected"`
	DistancePx    *float64 `json:"distancia_extremos_px,omitempty"`
	DistanceMM    *float64 `json:"distancia_extremos_mm"`
	AccuracyPct   *float64 `json:"precision_pct,omitempty"`
}

// MetricsResult describes the line between the extreme holes. All fields
// are nil when fewer than two holes are present; DistanceMM is also nil
// when the frame is not calibrated.
type MetricsResult struct {
	Count      int               `json:"count"`
	P1         *geometry.Point2D `json:"punto1"`
	P2         *geometry.Point2D `json:"punto2"`
	Midpoint   *geometry.Point2D `json:"punto_medio"`
	Centroid   *geometry.Point2D `json:"centroide"`
	DistancePx *float64          `json:"distancia_px"`
	DistanceMM *float64          `json:"distancia_mm"`
	AngleRad   *float64          `json:"angle_rad"`
}

// Defined reports whether the metrics were computed from at least two
// holes.
func (m *MetricsResult) Defined() bool {
	return m != nil && m.P1 != nil && m.P2 != nil
}

// ValidationCheck is the outcome of one geometric check.
type ValidationCheck struct {
	OK        bool    `json:"ok"`
	Deviation float64 `json:"deviation"`
	Threshold float64 `json:"threshold"`
	Note      string  `json:"note,omitempty"`
}

// ValidationReport is the outcome of the three geometric checks.
type ValidationReport struct {
	Symmetry       ValidationCheck   `json:"centros_multiples"`
	Collinearity   ValidationCheck   `json:"colinealidad"`
	Spacing        ValidationCheck   `json:"espaciado_uniforme"`
	ProbableCenter *geometry.Point2D `json:"centro_probabilistico,omitempty"`
	AllOK          bool              `json:"todas_ok"`
	Error          string            `json:"error,omitempty"`
}

// Notch is one placed notch in pixels.
type Notch struct {
	OffsetMM geometry.Point2D `json:"centro_mm"`
	X        float64          `json:"x_px"`
	Y        float64          `json:"y_px"`
	RadiusPx int              `json:"radio_px"`
}

// Point returns the notch position.
func (n Notch) Point() geometry.Point2D {
	return geometry.Pt(n.X, n.Y)
}

// NotchPlacement is the set of notches drawn for the robot operator.
type NotchPlacement struct {
	RadiusPx int
	Notches  []Notch
}

// OffsetVector goes from the calibrated die centre to the first notch.
type OffsetVector struct {
	DieCenter geometry.Point2D `json:"centro_troquel_px"`
	DXMM      float64          `json:"dx_mm"`
	DYMM      float64          `json:"dy_mm"`
	ModulusMM float64          `json:"modulo_mm"`
}

// EarlyExit names the check that ended an attempt before rendering.
type EarlyExit string

const (
	ExitHoleCount EarlyExit = "cantidad_pistones"
	ExitDistance  EarlyExit = "distancia_extremos"
)

// Result accumulates everything an attempt produced. Fields are nil when
// the attempt stopped before computing them; Notches is always a list.
type Result struct {
	Attempt      int                 `json:"attempt"`
	Template     string              `json:"template,omitempty"`
	Fiducial     *CalibrationFrame   `json:"aruco,omitempty"`
	Gasket       *detector.RegionBox `json:"gasket,omitempty"`
	Holes        *HoleSummary        `json:"holes,omitempty"`
	Observations []HoleObservation   `json:"agujeros,omitempty"`
	Metrics      *MetricsResult      `json:"linea_referencia,omitempty"`
	Validation   *ValidationReport   `json:"validaciones_geometricas,omitempty"`
	Notches      []Notch             `json:"muescas"`
	Offset       *OffsetVector       `json:"vector_offset,omitempty"`
	EarlyExit    EarlyExit           `json:"validacion_temprana,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func newResult(attempt int) *Result {
	return &Result{Attempt: attempt, Notches: []Notch{}}
}

// snapshot returns a shallow copy for observers.
func (r *Result) snapshot() *Result {
	c := *r
	return &c
}

// Centers returns the refined hole centres in observation order.
func (r *Result) Centers() []geometry.Point2D {
	out := make([]geometry.Point2D, len(r.Observations))
	for i, o := range r.Observations {
		out[i] = o.Center
	}
	return out
}

// AttemptResult is the outcome of one pass through the pipeline.
type AttemptResult struct {
	Attempt int
	Success bool
	// Image is the encoded debug overlay, nil when the attempt exited early.
	Image []byte
	Data  *Result
	Err   error
}

// Template is the part description the inspection checks against.
type Template struct {
	ID        string
	Name      string
	HoleCount int
	// ExpectedSeparationMM is the distance between the extreme holes; zero
	// when unknown.
	ExpectedSeparationMM float64
	Notches              []geometry.Point2D
}

// TemplateSource returns the currently selected template, or ErrNoTemplate.
type TemplateSource interface {
	SelectedTemplate(ctx context.Context) (*Template, error)
}

// ReferenceSource returns a saved fiducial reference, or nil when none is
// stored.
type ReferenceSource interface {
	FiducialReference(ctx context.Context) (*CalibrationFrame, error)
}

// StaticTemplate is a TemplateSource that always returns the same template.
// A nil template yields ErrNoTemplate.
type StaticTemplate struct {
	T *Template
}

// SelectedTemplate implements TemplateSource.
func (s StaticTemplate) SelectedTemplate(context.Context) (*Template, error) {
	if s.T == nil {
		return nil, ErrNoTemplate
	}
	t := *s.T
	return &t, nil
}
