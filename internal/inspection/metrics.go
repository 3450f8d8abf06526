package inspection

import (
	"math"
	"sort"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// ComputeMetrics finds the extreme holes (first and last when sorted by
// x, then y) and the distance between them. Distances are rounded to one
// decimal. pxPerMM <= 0 leaves DistanceMM nil.
func ComputeMetrics(centers []geometry.Point2D, pxPerMM float64) *MetricsResult {
	m := &MetricsResult{Count: len(centers)}
	if len(centers) < 2 {
		return m
	}

	sorted := sortedCenters(centers)
	p1, p2 := sorted[0], sorted[len(sorted)-1]
	mid := p1.Midpoint(p2)
	centroid := geometry.Centroid(sorted)
	raw := p1.Distance(p2)
	px := round1(raw)
	angle := p1.Angle(p2)

	m.P1, m.P2 = &p1, &p2
	m.Midpoint = &mid
	m.Centroid = &centroid
	m.DistancePx = &px
	m.AngleRad = &angle
	if pxPerMM > 0 {
		mm := round1(raw / pxPerMM)
		m.DistanceMM = &mm
	}
	return m
}

// Accuracy returns 100 - |observed-expected|/expected*100.
func Accuracy(observed, expected float64) float64 {
	return 100 - math.Abs(observed-expected)/expected*100
}

func sortedCenters(centers []geometry.Point2D) []geometry.Point2D {
	sorted := append([]geometry.Point2D(nil), centers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})
	return sorted
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
