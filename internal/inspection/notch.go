package inspection

import (
	"log/slog"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// PlaceNotches maps notch offsets in part millimetres to pixels: scale by
// the calibration, flip Y, rotate by angle and translate to the midpoint.
// A missing input gives an empty placement, which is a normal outcome.
func PlaceNotches(mid *geometry.Point2D, cal *CalibrationFrame, angle float64, offsets []geometry.Point2D, radiusMM float64) (p NotchPlacement) {
	p.Notches = []Notch{}
	if mid == nil || !cal.Calibrated() || len(offsets) == 0 {
		return p
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("notch placement failed", "panic", r)
			p = NotchPlacement{Notches: []Notch{}}
		}
	}()

	k := cal.PxPerMM
	p.RadiusPx = int(radiusMM * k)
	tr := geometry.PartToImage(k, angle, *mid)
	for _, off := range offsets {
		px := tr.Apply(off)
		p.Notches = append(p.Notches, Notch{
			OffsetMM: off,
			X:        px.X,
			Y:        px.Y,
			RadiusPx: p.RadiusPx,
		})
	}
	return p
}

// DieCenter returns the pixel position of the die centre, given its offset
// from the fiducial centre in part millimetres.
func DieCenter(cal *CalibrationFrame, offsetMM geometry.Point2D) geometry.Point2D {
	return geometry.PartToImage(cal.PxPerMM, cal.AngleRad, cal.Center).Apply(offsetMM)
}

// ComputeOffset returns the vector from the die centre to the first notch
// in part millimetres (Y up), measured along the part axes rotated by
// angle. It is nil without notches or calibration.
func ComputeOffset(cal *CalibrationFrame, dieOffsetMM geometry.Point2D, angle float64, notches []Notch) *OffsetVector {
	if !cal.Calibrated() || len(notches) == 0 {
		return nil
	}
	die := DieCenter(cal, dieOffsetMM)
	toPart, ok := geometry.PartToImage(cal.PxPerMM, angle, die).Inverse()
	if !ok {
		return nil
	}
	d := toPart.Apply(notches[0].Point())
	v := &OffsetVector{
		DieCenter: die,
		DXMM:      round1(d.X),
		DYMM:      round1(d.Y),
	}
	v.ModulusMM = round1(geometry.Pt(v.DXMM, v.DYMM).Distance(geometry.Point2D{}))
	return v
}
