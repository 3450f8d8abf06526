package inspection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// Thresholds for the geometric checks.
type Thresholds struct {
	CenterMM       float64
	CollinearityMM float64
	SpacingCVMax   float64
}

// Validate runs the symmetry, collinearity and spacing checks on the
// refined centres. Every check runs even when an earlier one fails.
func Validate(centers []geometry.Point2D, pxPerMM float64, th Thresholds) *ValidationReport {
	r := &ValidationReport{
		Symmetry:     ValidationCheck{Threshold: th.CenterMM},
		Collinearity: ValidationCheck{Threshold: th.CollinearityMM},
		Spacing:      ValidationCheck{Threshold: th.SpacingCVMax},
	}
	if pxPerMM <= 0 {
		r.Error = "frame is not calibrated"
		return r
	}
	if len(centers) < 2 {
		r.Error = fmt.Sprintf("need at least 2 holes, got %d", len(centers))
		return r
	}

	sorted := sortedCenters(centers)
	r.Symmetry, r.ProbableCenter = checkSymmetry(sorted, pxPerMM, th.CenterMM)
	r.Collinearity = checkCollinearity(sorted, pxPerMM, th.CollinearityMM)
	r.Spacing = checkSpacing(sorted, th.SpacingCVMax)
	r.AllOK = r.Symmetry.OK && r.Collinearity.OK && r.Spacing.OK
	return r
}

// checkSymmetry pairs hole i with hole n-1-i. On a symmetric part every
// pair has the same midpoint; the deviation is the largest distance from a
// pair midpoint to their mean, in millimetres.
func checkSymmetry(sorted []geometry.Point2D, pxPerMM, threshold float64) (ValidationCheck, *geometry.Point2D) {
	c := ValidationCheck{Threshold: threshold}
	n := len(sorted)
	if n < 4 {
		c.OK = true
		c.Note = fmt.Sprintf("needs at least 4 holes, got %d", n)
		return c, nil
	}

	mids := make([]geometry.Point2D, 0, n/2)
	for i := 0; i < n/2; i++ {
		mids = append(mids, sorted[i].Midpoint(sorted[n-1-i]))
	}
	center := geometry.Centroid(mids)

	var worst float64
	for _, m := range mids {
		worst = math.Max(worst, m.Distance(center))
	}
	c.Deviation = worst / pxPerMM
	c.OK = c.Deviation <= threshold
	return c, &center
}

// checkCollinearity fits the total-least-squares line through the centres
// (principal axis of their covariance) and measures the largest
// perpendicular distance to it, in millimetres.
func checkCollinearity(sorted []geometry.Point2D, pxPerMM, threshold float64) ValidationCheck {
	c := ValidationCheck{Threshold: threshold}
	n := len(sorted)
	if n < 3 {
		c.OK = true
		c.Note = fmt.Sprintf("needs at least 3 holes, got %d", n)
		return c
	}

	data := mat.NewDense(n, 2, nil)
	for i, p := range sorted {
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		c.Note = "line fit failed"
		return c
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues are ascending: column 0 is the line normal.
	nx, ny := vecs.At(0, 0), vecs.At(1, 0)
	mean := geometry.Pt(stat.Mean(mat.Col(nil, 0, data), nil), stat.Mean(mat.Col(nil, 1, data), nil))

	var worst float64
	for _, p := range sorted {
		d := p.Sub(mean)
		worst = math.Max(worst, math.Abs(d.X*nx+d.Y*ny))
	}
	c.Deviation = worst / pxPerMM
	c.OK = c.Deviation <= threshold
	return c
}

// checkSpacing computes the coefficient of variation (population standard
// deviation over mean) of the distances between neighbouring centres.
func checkSpacing(sorted []geometry.Point2D, cvMax float64) ValidationCheck {
	c := ValidationCheck{Threshold: cvMax}

	gaps := make([]float64, len(sorted)-1)
	for i := range gaps {
		gaps[i] = sorted[i].Distance(sorted[i+1])
	}
	mean, std := stat.PopMeanStdDev(gaps, nil)
	if mean == 0 {
		c.Note = "holes coincide"
		return c
	}
	c.Deviation = std / mean
	c.OK = c.Deviation <= cvMax
	return c
}
