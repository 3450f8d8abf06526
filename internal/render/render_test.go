package render

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/refine"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

func allLayers() config.RenderConfig {
	return config.RenderConfig{
		ShowReference: true,
		ShowBBox:      true,
		ShowContours:  true,
		ShowEllipses:  true,
		ShowNotches:   true,
		JPEGQuality:   95,
	}
}

func scene(opts config.RenderConfig) inspection.Scene {
	p1, p2, mid := geometry.Pt(20, 100), geometry.Pt(180, 100), geometry.Pt(100, 100)
	dist := 40.0
	gasket := detector.Rect(10, 60, 190, 140, 0.9)
	die := geometry.Pt(30, 30)
	return inspection.Scene{
		Calibration: &inspection.CalibrationFrame{
			PxPerMM: 4,
			Center:  geometry.Pt(250, 40),
			Corners: [4]geometry.Point2D{
				geometry.Pt(240, 30), geometry.Pt(260, 30), geometry.Pt(260, 50), geometry.Pt(240, 50),
			},
		},
		Gasket: &gasket,
		Holes: []inspection.HoleObservation{
			{
				Index:   0,
				Center:  p1,
				Box:     detector.Rect(12, 92, 28, 108, 0.8),
				Contour: []image.Point{{15, 95}, {25, 95}, {25, 105}, {15, 105}},
				Ellipse: &refine.Ellipse{Center: p1, Width: 10, Height: 8, AngleDeg: 15},
			},
			{Index: 1, Center: p2, Box: detector.Rect(172, 92, 188, 108, 0.8)},
		},
		Metrics: &inspection.MetricsResult{
			Count: 2, P1: &p1, P2: &p2, Midpoint: &mid, Centroid: &mid, DistanceMM: &dist,
		},
		Notches:   []inspection.Notch{{X: 100, Y: 170, RadiusPx: 10}},
		DieCenter: &die,
		Options:   opts,
	}
}

func decode(t *testing.T, data []byte) gocv.Mat {
	t.Helper()
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	require.NoError(t, err)
	require.False(t, img.Empty())
	t.Cleanup(func() { img.Close() })
	return img
}

func TestRender_ProducesJPEG(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 200, 300, gocv.MatTypeCV8UC3)
	defer frame.Close()

	data, err := New().Render(&frame, scene(allLayers()))

	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	img := decode(t, data)
	assert.Equal(t, 300, img.Cols())
	assert.Equal(t, 200, img.Rows())
}

func TestRender_DrawsNotchesInRed(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 300, gocv.MatTypeCV8UC3)
	defer frame.Close()

	data, err := New().Render(&frame, scene(allLayers()))
	require.NoError(t, err)

	img := decode(t, data)
	px := img.GetVecbAt(170, 100)
	assert.Greater(t, int(px[2]), 200, "red channel")
	assert.Less(t, int(px[0]), 60, "blue channel")
}

func TestRender_RespectsToggles(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 300, gocv.MatTypeCV8UC3)
	defer frame.Close()

	opts := allLayers()
	opts.ShowNotches = false
	data, err := New().Render(&frame, scene(opts))
	require.NoError(t, err)

	img := decode(t, data)
	px := img.GetVecbAt(170, 100)
	assert.Less(t, int(px[2]), 60, "no notch drawn")
}

func TestRender_Desaturates(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), 200, 300, gocv.MatTypeCV8UC3)
	defer frame.Close()

	data, err := New().Render(&frame, inspection.Scene{Options: config.RenderConfig{JPEGQuality: 100}})
	require.NoError(t, err)

	img := decode(t, data)
	px := img.GetVecbAt(10, 10)
	assert.InDelta(t, int(px[0]), int(px[2]), 6, "background is grey")
}

func TestRender_EmptyFrame(t *testing.T) {
	frame := gocv.NewMat()
	defer frame.Close()

	_, err := New().Render(&frame, inspection.Scene{})
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = New().Render(nil, inspection.Scene{})
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestBackground_GrayInput(t *testing.T) {
	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 0, 0, 0), 10, 10, gocv.MatTypeCV8U)
	defer gray.Close()

	bg, err := Background(gray)
	require.NoError(t, err)
	defer bg.Close()

	assert.Equal(t, 3, bg.Channels())
	assert.Equal(t, []uint8{128, 128, 128}, []uint8(bg.GetVecbAt(5, 5)))
}

func TestEncode_DefaultQuality(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 16, 16, gocv.MatTypeCV8UC3)
	defer img.Close()

	data, err := Encode(img, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}
