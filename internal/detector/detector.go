// Package detector wraps the opaque detection models used by an inspection:
// the fiducial marker detector, the gasket (object) detector and the hole
// (feature) detector.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// ErrModelUnavailable is returned when a detector backend cannot be loaded.
var ErrModelUnavailable = errors.New("detection model unavailable")

// FiducialQuery describes the marker a FiducialDetector should look for.
type FiducialQuery struct {
	TargetID     int
	DictionaryID int // number of markers in the dictionary: 50, 100, 250, 1000
	MarkerBits   int // 4 to 7
	SizeMM       float64
}

// FiducialDetection is a located fiducial marker.
type FiducialDetection struct {
	ID       int                 `json:"id"`
	Center   geometry.Point2D    `json:"center"`
	PxPerMM  float64             `json:"px_per_mm"`
	AngleRad float64             `json:"angle_rad"`
	Corners  [4]geometry.Point2D `json:"corners"`
}

// FromCorners derives scale and orientation from the four marker corners
// (clockwise from top-left). The scale is the mean side length over the
// physical marker size; the angle is the direction of the top edge.
func FromCorners(id int, corners [4]geometry.Point2D, sizeMM float64) FiducialDetection {
	var side float64
	for i := range corners {
		side += corners[i].Distance(corners[(i+1)%4])
	}
	side /= 4

	det := FiducialDetection{
		ID:       id,
		Center:   geometry.Centroid(corners[:]),
		AngleRad: corners[0].Angle(corners[1]),
		Corners:  corners,
	}
	if sizeMM > 0 {
		det.PxPerMM = side / sizeMM
	}
	return det
}

// FiducialDetector locates a fiducial marker. A nil detection with a nil
// error means the marker is not in the frame.
type FiducialDetector interface {
	Detect(ctx context.Context, frame *gocv.Mat, q FiducialQuery) (*FiducialDetection, error)
	Close() error
}

// ObjectDetector locates the single most confident object (the gasket).
// A nil box with a nil error means nothing was found.
type ObjectDetector interface {
	DetectObject(ctx context.Context, frame *gocv.Mat, confidence float64) (*RegionBox, error)
	Close() error
}

// FeatureDetector locates every candidate feature (hole) in a crop.
// Coordinates are relative to the crop.
type FeatureDetector interface {
	DetectFeatures(ctx context.Context, crop *gocv.Mat, confidence float64) ([]RegionBox, error)
	Close() error
}

// Kind discriminates axis-aligned from oriented boxes.
type Kind int

const (
	AxisAligned Kind = iota
	Oriented
)

func (k Kind) String() string {
	if k == Oriented {
		return "obb"
	}
	return "rect"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "rect", "":
		*k = AxisAligned
	case "obb":
		*k = Oriented
	default:
		return fmt.Errorf("unknown box type %q", b)
	}
	return nil
}

// RegionBox is a detected region. X1..Y2 always hold the axis-aligned
// bounds; for oriented boxes they are the hull of Corners.
type RegionBox struct {
	Kind       Kind               `json:"type"`
	X1         float64            `json:"x1"`
	Y1         float64            `json:"y1"`
	X2         float64            `json:"x2"`
	Y2         float64            `json:"y2"`
	Center     geometry.Point2D   `json:"center"`
	Width      float64            `json:"width"`
	Height     float64            `json:"height"`
	AngleDeg   float64            `json:"angle"`
	Corners    []geometry.Point2D `json:"points,omitempty"`
	Confidence float64            `json:"confidence"`
	ClassID    int                `json:"class_id"`
}

// Rect builds an axis-aligned box.
func Rect(x1, y1, x2, y2, confidence float64) RegionBox {
	return RegionBox{
		Kind:       AxisAligned,
		X1:         x1,
		Y1:         y1,
		X2:         x2,
		Y2:         y2,
		Center:     geometry.Pt((x1+x2)/2, (y1+y2)/2),
		Width:      x2 - x1,
		Height:     y2 - y1,
		Confidence: confidence,
	}
}

// OrientedBox builds a rotated box from its centre, size and angle in
// degrees. Corners run (-w,-h), (+w,-h), (+w,+h), (-w,+h) before rotation.
func OrientedBox(center geometry.Point2D, w, h, angleDeg, confidence float64) RegionBox {
	rot := geometry.Rotation(angleDeg * math.Pi / 180).Then(geometry.Translation(center.X, center.Y))
	corners := []geometry.Point2D{
		rot.Apply(geometry.Pt(-w/2, -h/2)),
		rot.Apply(geometry.Pt(w/2, -h/2)),
		rot.Apply(geometry.Pt(w/2, h/2)),
		rot.Apply(geometry.Pt(-w/2, h/2)),
	}
	b := RegionBox{
		Kind:       Oriented,
		Center:     center,
		Width:      w,
		Height:     h,
		AngleDeg:   angleDeg,
		Corners:    corners,
		Confidence: confidence,
	}
	b.X1, b.Y1, b.X2, b.Y2 = hull(corners)
	return b
}

// normalize fills derived fields for boxes decoded from an external source.
func (b RegionBox) normalize() RegionBox {
	if b.Kind == Oriented {
		if len(b.Corners) != 4 {
			return OrientedBox(b.Center, b.Width, b.Height, b.AngleDeg, b.Confidence)
		}
		if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
			b.X1, b.Y1, b.X2, b.Y2 = hull(b.Corners)
		}
		return b
	}
	r := Rect(b.X1, b.Y1, b.X2, b.Y2, b.Confidence)
	r.ClassID = b.ClassID
	return r
}

// Valid reports whether the box has a positive extent.
func (b RegionBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Bounds returns the integer axis-aligned bounds.
func (b RegionBox) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

// Padded returns the bounds grown by frac of the box width and height on
// every side.
func (b RegionBox) Padded(frac float64) image.Rectangle {
	px := (b.X2 - b.X1) * frac
	py := (b.Y2 - b.Y1) * frac
	return image.Rect(
		int(math.Floor(b.X1-px)), int(math.Floor(b.Y1-py)),
		int(math.Ceil(b.X2+px)), int(math.Ceil(b.Y2+py)),
	)
}

// Translate shifts the box by (dx, dy).
func (b RegionBox) Translate(dx, dy float64) RegionBox {
	b.X1 += dx
	b.X2 += dx
	b.Y1 += dy
	b.Y2 += dy
	b.Center = b.Center.Add(geometry.Pt(dx, dy))
	if len(b.Corners) > 0 {
		moved := make([]geometry.Point2D, len(b.Corners))
		for i, c := range b.Corners {
			moved[i] = c.Add(geometry.Pt(dx, dy))
		}
		b.Corners = moved
	}
	return b
}

// ClampRect limits r to a w x h frame. The result is empty when nothing of
// r lies inside the frame.
func ClampRect(r image.Rectangle, w, h int) (image.Rectangle, bool) {
	c := r.Intersect(image.Rect(0, 0, w, h))
	return c, !c.Empty()
}

func hull(pts []geometry.Point2D) (x1, y1, x2, y2 float64) {
	x1, y1 = math.Inf(1), math.Inf(1)
	x2, y2 = math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		x1 = math.Min(x1, p.X)
		y1 = math.Min(y1, p.Y)
		x2 = math.Max(x2, p.X)
		y2 = math.Max(y2, p.Y)
	}
	return x1, y1, x2, y2
}
