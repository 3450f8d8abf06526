package inspection

import (
	"context"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/logging"
	"github.com/ayusman/gasketvision/internal/refine"
	"github.com/ayusman/gasketvision/pkg/geometry"
)

// fakeRenderer returns a fixed payload and counts calls.
type fakeRenderer struct {
	mu     sync.Mutex
	calls  int
	scenes []Scene
}

func (r *fakeRenderer) Render(_ *gocv.Mat, s Scene) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.scenes = append(r.scenes, s)
	return []byte("jpeg"), nil
}

// seqRefiner returns the queued local centres in a cycle and counts calls.
// A nil entry yields NotFound.
type seqRefiner struct {
	centers []*geometry.Point2D
	calls   int
}

func (r *seqRefiner) Refine(*gocv.Mat) refine.Result {
	c := r.centers[r.calls%len(r.centers)]
	r.calls++
	if c == nil {
		return refine.NotFound("test drop")
	}
	return refine.Found(refine.Refined{Center: *c})
}

func local(x, y float64) *geometry.Point2D {
	p := geometry.Pt(x, y)
	return &p
}

type recorder struct {
	mu  sync.Mutex
	cps []Checkpoint
}

func (r *recorder) OnCheckpoint(cp Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cps = append(r.cps, cp)
}

func (r *recorder) stages(attempt int) []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, cp := range r.cps {
		if cp.Attempt == attempt {
			out = append(out, cp.Stage)
		}
	}
	return out
}

type staticReference struct {
	ref *CalibrationFrame
}

func (s staticReference) FiducialReference(context.Context) (*CalibrationFrame, error) {
	return s.ref, nil
}

// harness is the mock setup of the pipeline scenario: px_per_mm 3.0, one
// gasket box at the frame origin and four 20px hole boxes 40px apart whose
// refined centres land on (10,10), (50,10), (90,10) and (130,10).
type harness struct {
	analyzer *Analyzer
	cfg      *config.StaticProvider
	fiducial *detector.MockFiducialDetector
	gasket   *detector.MockObjectDetector
	holes    *detector.MockFeatureDetector
	refiner  *seqRefiner
	renderer *fakeRenderer
	rec      *recorder
	tpl      *Template
	frame    gocv.Mat
}

func holeBoxes(n int) []detector.RegionBox {
	boxes := make([]detector.RegionBox, n)
	for i := range boxes {
		x := float64(i * 40)
		boxes[i] = detector.Rect(x, 0, x+20, 20, 0.9)
	}
	return boxes
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		cfg:      config.Static(config.Defaults()),
		fiducial: detector.NewMockFiducialDetector(),
		gasket:   detector.NewMockObjectDetector(),
		holes:    detector.NewMockFeatureDetector(),
		refiner:  &seqRefiner{centers: []*geometry.Point2D{local(10, 10)}},
		renderer: &fakeRenderer{},
		rec:      &recorder{},
		tpl: &Template{
			ID:                   "t1",
			Name:                 "JUNTA-4",
			HoleCount:            4,
			ExpectedSeparationMM: 40.0,
			Notches:              []geometry.Point2D{geometry.Pt(0, 0), geometry.Pt(5, -2)},
		},
		frame: gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3),
	}
	t.Cleanup(func() { h.frame.Close() })

	h.fiducial.SetScale(3.0, 0, geometry.Pt(400, 300))
	box := detector.Rect(0, 0, 200, 100, 0.95)
	h.gasket.SetBox(&box)
	h.holes.SetBoxes(holeBoxes(4))

	h.analyzer = &Analyzer{
		Config:    h.cfg,
		Templates: StaticTemplate{T: h.tpl},
		Fiducial:  h.fiducial,
		Gasket:    h.gasket,
		Holes:     h.holes,
		Refiner:   h.refiner,
		Renderer:  h.renderer,
		Observer:  h.rec,
		Logger:    logging.Discard(),
	}
	return h
}
