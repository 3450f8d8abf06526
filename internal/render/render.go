// Package render draws the inspection overlay: fiducial axes, gasket box,
// hole contours and centres, the reference line and the placed notches,
// over a desaturated copy of the frame.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

// DefaultQuality is the JPEG quality used when the scene does not set one.
const DefaultQuality = 95

// axisLengthMM is the length of the drawn fiducial axes.
const axisLengthMM = 20.0

var (
	red     = color.RGBA{R: 255, A: 255}
	green   = color.RGBA{G: 255, A: 255}
	blue    = color.RGBA{B: 255, A: 255}
	yellow  = color.RGBA{R: 255, G: 255, A: 255}
	cyan    = color.RGBA{G: 255, B: 255, A: 255}
	magenta = color.RGBA{R: 255, B: 255, A: 255}
	orange  = color.RGBA{R: 255, G: 140, A: 255}
	white   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// ErrEmptyFrame is returned when there is nothing to draw on.
var ErrEmptyFrame = errors.New("render: empty frame")

// Renderer implements inspection.Renderer with gocv drawing primitives.
type Renderer struct{}

var _ inspection.Renderer = (*Renderer)(nil)

// New returns a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render draws s over a grey copy of frame and returns it JPEG-encoded.
// The frame is not modified.
func (r *Renderer) Render(frame *gocv.Mat, s inspection.Scene) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	canvas, err := Background(*frame)
	if err != nil {
		return nil, err
	}
	defer canvas.Close()

	opts := s.Options
	if opts.ShowReference {
		drawFiducial(&canvas, s.Calibration)
	}
	if opts.ShowBBox && s.Gasket != nil {
		drawBox(&canvas, *s.Gasket, yellow)
	}
	for _, h := range s.Holes {
		if opts.ShowBBox {
			drawBox(&canvas, h.Box, cyan)
		}
		if opts.ShowContours && len(h.Contour) > 0 {
			drawContour(&canvas, h.Contour)
		}
		if opts.ShowEllipses && h.Ellipse != nil {
			e := h.Ellipse
			axes := image.Pt(int(math.Round(e.Width/2)), int(math.Round(e.Height/2)))
			gocv.Ellipse(&canvas, e.Center.ImagePoint(), axes, e.AngleDeg, 0, 360, magenta, 1)
		}
		c := h.Center.ImagePoint()
		gocv.Circle(&canvas, c, 3, green, -1)
		gocv.PutText(&canvas, fmt.Sprint(h.Index+1), c.Add(image.Pt(5, -5)), gocv.FontHersheyPlain, 1.0, white, 1)
	}
	drawReferenceLine(&canvas, s.Metrics)
	if opts.ShowNotches {
		for _, n := range s.Notches {
			radius := n.RadiusPx
			if radius < 2 {
				radius = 2
			}
			gocv.Circle(&canvas, n.Point().ImagePoint(), radius, red, -1)
		}
	}
	if s.DieCenter != nil {
		drawCross(&canvas, s.DieCenter.ImagePoint(), 8, orange)
	}

	return Encode(canvas, opts.JPEGQuality)
}

// Background returns a three-channel grey copy of frame so the coloured
// overlay stands out. The caller closes the result.
func Background(frame gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	switch frame.Channels() {
	case 1:
		frame.CopyTo(&gray)
	case 3:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRAToGray)
	default:
		return gocv.NewMat(), fmt.Errorf("render: unsupported frame with %d channels", frame.Channels())
	}

	out := gocv.NewMat()
	gocv.CvtColor(gray, &out, gocv.ColorGrayToBGR)
	return out, nil
}

// Encode returns img as JPEG. Quality outside 1-100 uses DefaultQuality.
func Encode(img gocv.Mat, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("render: encoding jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func drawFiducial(img *gocv.Mat, cal *inspection.CalibrationFrame) {
	if cal == nil {
		return
	}
	center := cal.Center.ImagePoint()
	if !cal.FromReference {
		pts := make([]image.Point, len(cal.Corners))
		for i, c := range cal.Corners {
			pts[i] = c.ImagePoint()
		}
		drawPolygon(img, pts, green)
	}
	gocv.Circle(img, center, 4, green, -1)

	if !cal.Calibrated() {
		return
	}
	length := axisLengthMM * cal.PxPerMM
	x := geometry.Pt(math.Cos(cal.AngleRad), math.Sin(cal.AngleRad)).Scale(length)
	// part Y points up, i.e. a quarter turn counter-clockwise on screen
	y := geometry.Pt(x.Y, -x.X)
	gocv.ArrowedLine(img, center, cal.Center.Add(x).ImagePoint(), red, 2)
	gocv.ArrowedLine(img, center, cal.Center.Add(y).ImagePoint(), green, 2)
}

func drawBox(img *gocv.Mat, b detector.RegionBox, c color.RGBA) {
	if b.Kind == detector.Oriented && len(b.Corners) == 4 {
		pts := make([]image.Point, len(b.Corners))
		for i, p := range b.Corners {
			pts[i] = p.ImagePoint()
		}
		drawPolygon(img, pts, c)
		return
	}
	gocv.Rectangle(img, b.Bounds(), c, 2)
}

func drawPolygon(img *gocv.Mat, pts []image.Point, c color.RGBA) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.Polylines(img, pv, true, c, 2)
}

func drawContour(img *gocv.Mat, contour []image.Point) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{contour})
	defer pv.Close()
	gocv.DrawContours(img, pv, -1, green, 1)
}

func drawReferenceLine(img *gocv.Mat, m *inspection.MetricsResult) {
	if !m.Defined() {
		return
	}
	gocv.Line(img, m.P1.ImagePoint(), m.P2.ImagePoint(), red, 2)
	gocv.Circle(img, m.Midpoint.ImagePoint(), 5, blue, -1)

	if m.DistanceMM != nil {
		label := fmt.Sprintf("%.1f mm", *m.DistanceMM)
		gocv.PutText(img, label, m.Midpoint.ImagePoint().Add(image.Pt(8, -10)), gocv.FontHersheySimplex, 0.6, yellow, 2)
	}
}

func drawCross(img *gocv.Mat, c image.Point, size int, col color.RGBA) {
	gocv.Line(img, c.Sub(image.Pt(size, 0)), c.Add(image.Pt(size, 0)), col, 2)
	gocv.Line(img, c.Sub(image.Pt(0, size)), c.Add(image.Pt(0, size)), col, 2)
}
