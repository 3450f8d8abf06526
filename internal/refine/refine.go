// Package refine turns a coarse hole bounding box into a precise centre by
// segmenting the marker colour inside the crop and fitting an ellipse to the
// largest blob.
package refine

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// Ellipse is a fitted ellipse in crop coordinates.
type Ellipse struct {
	Center   geometry.Point2D `json:"center"`
	Width    float64          `json:"width"`
	Height   float64          `json:"height"`
	AngleDeg float64          `json:"angle"`
}

// Refined is a successfully localized feature. Coordinates are relative to
// the crop passed to Refine.
type Refined struct {
	Center  geometry.Point2D
	Contour []image.Point
	Area    float64
	// Ellipse is nil when the contour was too short to fit one and the
	// centre came from the area moments.
	Ellipse *Ellipse
}

// Translate returns a copy moved by offset. The receiver is not modified.
func (r Refined) Translate(offset image.Point) Refined {
	d := geometry.FromImagePoint(offset)
	out := Refined{
		Center:  r.Center.Add(d),
		Area:    r.Area,
		Contour: make([]image.Point, len(r.Contour)),
	}
	for i, p := range r.Contour {
		out.Contour[i] = p.Add(offset)
	}
	if r.Ellipse != nil {
		e := *r.Ellipse
		e.Center = e.Center.Add(d)
		out.Ellipse = &e
	}
	return out
}

// Result is either a Refined feature or a NotFound with a reason. The zero
// value is NotFound.
type Result struct {
	refined *Refined
	reason  string
}

// Found wraps a refined feature.
func Found(r Refined) Result {
	return Result{refined: &r}
}

// NotFound reports that the feature could not be localized.
func NotFound(reason string) Result {
	return Result{reason: reason}
}

// Refined returns the feature and true, or false when it was not found.
func (r Result) Refined() (Refined, bool) {
	if r.refined == nil {
		return Refined{}, false
	}
	return *r.refined, true
}

// Reason explains a NotFound result. It is empty for found features.
func (r Result) Reason() string {
	if r.refined != nil {
		return ""
	}
	if r.reason == "" {
		return "not refined"
	}
	return r.reason
}

// Refiner localizes one feature in a crop. Implementations must be pure:
// the same crop always gives the same result and no state is shared
// between calls.
type Refiner interface {
	Refine(crop *gocv.Mat) Result
}

// Func adapts a function to the Refiner interface.
type Func func(crop *gocv.Mat) Result

// Refine calls f(crop).
func (f Func) Refine(crop *gocv.Mat) Result { return f(crop) }

// Channel indexes a BGR plane.
type Channel int

const (
	Blue Channel = iota
	Green
	Red
)

// Default segmentation parameters.
const (
	DefaultDominance = 0.7
	DefaultMinArea   = 10.0
)

// ColorRefiner marks a pixel as feature-coloured when its Channel value is
// greater than Dominance times the sum of the other two channels.
type ColorRefiner struct {
	Channel   Channel
	Dominance float64
	MinArea   float64
}

// NewColorRefiner returns a refiner for blue markers with default
// parameters.
func NewColorRefiner() *ColorRefiner {
	return &ColorRefiner{Channel: Blue, Dominance: DefaultDominance, MinArea: DefaultMinArea}
}

// Refine implements Refiner. OpenCV failures are converted to NotFound.
func (c *ColorRefiner) Refine(crop *gocv.Mat) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = NotFound(fmt.Sprintf("refinement panicked: %v", r))
		}
	}()

	if crop == nil || crop.Empty() {
		return NotFound("empty crop")
	}
	if crop.Channels() != 3 {
		return NotFound(fmt.Sprintf("expected 3 channels, got %d", crop.Channels()))
	}

	// 1. Dominant-channel mask
	mask := c.mask(crop)
	defer mask.Close()

	if gocv.CountNonZero(mask) == 0 {
		return NotFound("no marker-coloured pixels")
	}

	// 2. Largest external contour
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); best < 0 || area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return NotFound("no contours")
	}

	// 3. Noise floor
	if bestArea < c.minArea() {
		return NotFound(fmt.Sprintf("largest contour area %.1f below %.1f", bestArea, c.minArea()))
	}

	contour := contours.At(best)
	refined := Refined{
		Contour: contour.ToPoints(),
		Area:    bestArea,
	}

	// 4. Sub-pixel centre from the filled blob moments
	filled := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	defer filled.Close()
	gocv.DrawContours(&filled, contours, best, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	m := gocv.Moments(filled, true)
	if m["m00"] == 0 {
		return NotFound("zero moment sum")
	}
	refined.Center = geometry.Pt(m["m10"]/m["m00"], m["m01"]/m["m00"])

	// 5. Ellipse axes and angle when the contour is long enough. gocv
	// rounds the fitted centre to whole pixels, so the moment centre is kept.
	if contour.Size() >= 5 {
		rr := gocv.FitEllipse(contour)
		refined.Ellipse = &Ellipse{
			Center:   refined.Center,
			Width:    float64(rr.Width),
			Height:   float64(rr.Height),
			AngleDeg: rr.Angle,
		}
	}
	return Found(refined)
}

func (c *ColorRefiner) mask(crop *gocv.Mat) gocv.Mat {
	planes := gocv.Split(*crop)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()

	f := make([]gocv.Mat, 3)
	for i := range f {
		f[i] = gocv.NewMat()
		defer f[i].Close()
		planes[i].ConvertTo(&f[i], gocv.MatTypeCV32F)
	}

	target := int(c.Channel)
	a, b := f[(target+1)%3], f[(target+2)%3]

	others := gocv.NewMat()
	defer others.Close()
	k := c.dominance()
	gocv.AddWeighted(a, k, b, k, 0, &others)

	mask := gocv.NewMat()
	gocv.Compare(f[target], others, &mask, gocv.CompareGT)
	return mask
}

func (c *ColorRefiner) dominance() float64 {
	if c.Dominance <= 0 {
		return DefaultDominance
	}
	return c.Dominance
}

func (c *ColorRefiner) minArea() float64 {
	if c.MinArea <= 0 {
		return DefaultMinArea
	}
	return c.MinArea
}
