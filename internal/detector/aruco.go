package detector

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// arucoDictionaries maps (bits, marker count) to the OpenCV dictionary.
var arucoDictionaries = map[[2]int]gocv.ArucoDictionaryCode{
	{4, 50}: gocv.ArucoDict4x4_50, {4, 100}: gocv.ArucoDict4x4_100,
	{4, 250}: gocv.ArucoDict4x4_250, {4, 1000}: gocv.ArucoDict4x4_1000,
	{5, 50}: gocv.ArucoDict5x5_50, {5, 100}: gocv.ArucoDict5x5_100,
	{5, 250}: gocv.ArucoDict5x5_250, {5, 1000}: gocv.ArucoDict5x5_1000,
	{6, 50}: gocv.ArucoDict6x6_50, {6, 100}: gocv.ArucoDict6x6_100,
	{6, 250}: gocv.ArucoDict6x6_250, {6, 1000}: gocv.ArucoDict6x6_1000,
	{7, 50}: gocv.ArucoDict7x7_50, {7, 100}: gocv.ArucoDict7x7_100,
	{7, 250}: gocv.ArucoDict7x7_250, {7, 1000}: gocv.ArucoDict7x7_1000,
}

// DictionaryCode resolves a predefined ArUco dictionary.
func DictionaryCode(bits, size int) (gocv.ArucoDictionaryCode, error) {
	code, ok := arucoDictionaries[[2]int{bits, size}]
	if !ok {
		return 0, fmt.Errorf("no ArUco dictionary %dx%d_%d", bits, bits, size)
	}
	return code, nil
}

// ArucoDetector finds fiducial markers with OpenCV's ArUco module. One
// OpenCV detector is kept per dictionary.
type ArucoDetector struct {
	mu        sync.Mutex
	detectors map[gocv.ArucoDictionaryCode]*gocv.ArucoDetector
}

// NewArucoDetector creates an ArucoDetector.
func NewArucoDetector() *ArucoDetector {
	return &ArucoDetector{
		detectors: make(map[gocv.ArucoDictionaryCode]*gocv.ArucoDetector),
	}
}

// Detect returns the marker with q.TargetID, or nil if it is not visible.
func (d *ArucoDetector) Detect(_ context.Context, frame *gocv.Mat, q FiducialQuery) (*FiducialDetection, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	code, err := DictionaryCode(q.MarkerBits, q.DictionaryID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	det, ok := d.detectors[code]
	if !ok {
		dict := gocv.GetPredefinedDictionary(code)
		params := gocv.NewArucoDetectorParameters()
		created := gocv.NewArucoDetectorWithParams(dict, params)
		det = &created
		d.detectors[code] = det
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	corners, ids, _ := det.DetectMarkers(gray)
	for i, id := range ids {
		if id != q.TargetID || i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		var pts [4]geometry.Point2D
		for j, c := range corners[i] {
			pts[j] = geometry.Pt(float64(c.X), float64(c.Y))
		}
		found := FromCorners(id, pts, q.SizeMM)
		return &found, nil
	}
	return nil, nil
}

// Close releases the OpenCV detectors.
func (d *ArucoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for code, det := range d.detectors {
		det.Close()
		delete(d.detectors, code)
	}
	return nil
}
