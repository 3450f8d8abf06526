// Package testdata draws synthetic gasket frames for tests that need real
// pixels: a grey scene, a white gasket strip and blue hole markers.
package testdata

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

var (
	background = gocv.NewScalar(128, 128, 128, 0)
	gasketFill = color.RGBA{R: 245, G: 245, B: 245, A: 255}
	holeFill   = color.RGBA{B: 255, A: 255}
)

// Gasket describes a synthetic frame. The gasket strip is anchored at the
// frame origin so the gasket crop and the frame share coordinates.
type Gasket struct {
	Width, Height int // frame size in pixels
	StripW        int // gasket strip width
	StripH        int // gasket strip height
	Holes         []geometry.Point2D
	HoleRadius    int
	// BoxHalf is half the side of the hole boxes returned by HoleBoxes.
	BoxHalf int
}

// Row returns a gasket with n holes spaced by pitch pixels along the strip
// centre line, starting at x = start.
func Row(n int, start, pitch float64) Gasket {
	g := Gasket{Width: 640, Height: 480, StripH: 120, HoleRadius: 8, BoxHalf: 15}
	for i := 0; i < n; i++ {
		g.Holes = append(g.Holes, geometry.Pt(start+float64(i)*pitch, float64(g.StripH)/2))
	}
	g.StripW = int(start + float64(n-1)*pitch + start)
	return g
}

// Frame draws the gasket. The caller closes the returned Mat.
func (g Gasket) Frame() gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(background, g.Height, g.Width, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&m, image.Rect(0, 0, g.StripW, g.StripH), gasketFill, -1)
	for _, h := range g.Holes {
		gocv.Circle(&m, h.ImagePoint(), g.HoleRadius, holeFill, -1)
	}
	return m
}

// GasketBox is the detector box of the strip.
func (g Gasket) GasketBox() detector.RegionBox {
	return detector.Rect(0, 0, float64(g.StripW), float64(g.StripH), 0.95)
}

// HoleBoxes are square detector boxes around each hole.
func (g Gasket) HoleBoxes() []detector.RegionBox {
	boxes := make([]detector.RegionBox, len(g.Holes))
	half := float64(g.BoxHalf)
	for i, h := range g.Holes {
		boxes[i] = detector.Rect(h.X-half, h.Y-half, h.X+half, h.Y+half, 0.9)
	}
	return boxes
}

// Write draws the frame and writes it to path. The extension selects the
// image format.
func (g Gasket) Write(path string) error {
	m := g.Frame()
	defer m.Close()
	if !gocv.IMWrite(path, m) {
		return fmt.Errorf("writing %s", path)
	}
	return nil
}
