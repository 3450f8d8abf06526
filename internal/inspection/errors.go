package inspection

import (
	"errors"
	"fmt"
)

// Missing-prerequisite failures. They end an attempt without partial data.
var (
	ErrNoTemplate = errors.New("no gasket template selected")
	ErrNoFiducial = errors.New("fiducial marker not found")
	ErrNoGasket   = errors.New("gasket not found")
	ErrNoHoles    = errors.New("no holes detected")
)

// ErrGeometryRejected is returned when a fully rendered attempt fails the
// geometric validation.
var ErrGeometryRejected = errors.New("geometric validation failed")

// CountMismatchError reports a hole count different from the template.
type CountMismatchError struct {
	Expected int
	Got      int
	// Refined is true when the count dropped during refinement.
	Refined bool
}

func (e *CountMismatchError) Error() string {
	if e.Refined {
		return fmt.Sprintf("wrong hole count after refinement: expected %d, got %d", e.Expected, e.Got)
	}
	return fmt.Sprintf("wrong hole count: expected %d, got %d", e.Expected, e.Got)
}

// ToleranceError reports an extremes distance outside the tolerance.
type ToleranceError struct {
	ObservedMM  float64
	ExpectedMM  float64
	AccuracyPct float64
	RequiredPct float64
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("distance out of tolerance: %.2f%% (required %.2f%%), observed %.1fmm, expected %.1fmm",
		e.AccuracyPct, e.RequiredPct, e.ObservedMM, e.ExpectedMM)
}

type configError struct{ err error }

func (e *configError) Error() string { return "loading settings: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }
