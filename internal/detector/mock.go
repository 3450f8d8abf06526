package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// MockFiducialDetector is a test FiducialDetector.
type MockFiducialDetector struct {
	mu        sync.Mutex
	detection *FiducialDetection
	err       error
	calls     int
	lastQuery FiducialQuery
}

// NewMockFiducialDetector returns a mock that finds nothing until
// SetDetection is called.
func NewMockFiducialDetector() *MockFiducialDetector {
	return &MockFiducialDetector{}
}

// SetDetection sets the marker returned by Detect. Nil means not found.
func (m *MockFiducialDetector) SetDetection(d *FiducialDetection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detection = d
}

// SetScale is shorthand for a marker centred at center with the given
// scale and rotation.
func (m *MockFiducialDetector) SetScale(pxPerMM, angleRad float64, center geometry.Point2D) {
	m.SetDetection(&FiducialDetection{ID: 23, Center: center, PxPerMM: pxPerMM, AngleRad: angleRad})
}

// SetError sets the error returned by Detect.
func (m *MockFiducialDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect ran.
func (m *MockFiducialDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastQuery returns the query of the most recent Detect call.
func (m *MockFiducialDetector) LastQuery() FiducialQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

// Detect returns the configured marker or error.
func (m *MockFiducialDetector) Detect(_ context.Context, _ *gocv.Mat, q FiducialQuery) (*FiducialDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	if m.detection == nil {
		return nil, nil
	}
	d := *m.detection
	return &d, nil
}

// Close is a no-op.
func (m *MockFiducialDetector) Close() error { return nil }

// MockObjectDetector is a test ObjectDetector.
type MockObjectDetector struct {
	mu    sync.Mutex
	box   *RegionBox
	err   error
	calls int
}

// NewMockObjectDetector returns a mock that finds nothing until SetBox is
// called.
func NewMockObjectDetector() *MockObjectDetector {
	return &MockObjectDetector{}
}

// SetBox sets the box returned by DetectObject. Nil means not found.
func (m *MockObjectDetector) SetBox(b *RegionBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.box = b
}

// SetError sets the error returned by DetectObject.
func (m *MockObjectDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times DetectObject ran.
func (m *MockObjectDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// DetectObject returns the configured box or error.
func (m *MockObjectDetector) DetectObject(_ context.Context, _ *gocv.Mat, _ float64) (*RegionBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.box == nil {
		return nil, nil
	}
	b := *m.box
	return &b, nil
}

// Close is a no-op.
func (m *MockObjectDetector) Close() error { return nil }

// MockFeatureDetector is a test FeatureDetector. Queued results are
// returned first, one per call, then the default boxes.
type MockFeatureDetector struct {
	mu     sync.Mutex
	boxes  []RegionBox
	queue  [][]RegionBox
	err    error
	calls  int
	widths []int
}

// NewMockFeatureDetector returns a mock that finds nothing until SetBoxes
// is called.
func NewMockFeatureDetector() *MockFeatureDetector {
	return &MockFeatureDetector{}
}

// SetBoxes sets the default boxes.
func (m *MockFeatureDetector) SetBoxes(boxes []RegionBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes = boxes
}

// QueueBoxes appends per-call results consumed before the default.
func (m *MockFeatureDetector) QueueBoxes(results ...[]RegionBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, results...)
}

// SetError sets the error returned by DetectFeatures.
func (m *MockFeatureDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times DetectFeatures ran.
func (m *MockFeatureDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CropWidths returns the width of every crop passed to DetectFeatures.
func (m *MockFeatureDetector) CropWidths() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.widths...)
}

// DetectFeatures returns the next queued result, or the default boxes.
func (m *MockFeatureDetector) DetectFeatures(_ context.Context, crop *gocv.Mat, _ float64) ([]RegionBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if crop != nil {
		m.widths = append(m.widths, crop.Cols())
	}
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return append([]RegionBox(nil), next...), nil
	}
	return append([]RegionBox(nil), m.boxes...), nil
}

// Close is a no-op.
func (m *MockFeatureDetector) Close() error { return nil }
