package geometry

import (
	"image"
	"math"
	"testing"
)

func TestPartToImage_IdentityRotation(t *testing.T) {
	tests := []struct {
		name   string
		k      float64
		offset Point2D
		mid    Point2D
	}{
		{"origin", 3.0, Pt(0, 0), Pt(100, 200)},
		{"positive offset", 3.0, Pt(12.5, 4.25), Pt(320, 240)},
		{"negative offset", 2.7, Pt(-7.1, -3.3), Pt(411.5, 99.25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PartToImage(tt.k, 0, tt.mid).Apply(tt.offset)
			want := Pt(tt.mid.X+tt.k*tt.offset.X, tt.mid.Y-tt.k*tt.offset.Y)
			if got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestPartToImage_QuarterTurn(t *testing.T) {
	// +X in part space with a flipped Y axis, rotated 90 degrees, points down the image.
	got := PartToImage(2, math.Pi/2, Pt(10, 10)).Apply(Pt(5, 0))
	if math.Abs(got.X-10) > 1e-9 || math.Abs(got.Y-20) > 1e-9 {
		t.Errorf("got %v, want (10, 20)", got)
	}
}

func TestAffineTransform_Inverse(t *testing.T) {
	tr := PartToImage(3.5, 0.3, Pt(40, -12))
	inv, ok := tr.Inverse()
	if !ok {
		t.Fatal("transform should be invertible")
	}
	p := Pt(17, -4)
	back := inv.Apply(tr.Apply(p))
	if back.Distance(p) > 1e-9 {
		t.Errorf("round trip = %v, want %v", back, p)
	}

	if _, ok := Scaling(0, 1).Inverse(); ok {
		t.Error("degenerate scaling should not be invertible")
	}
}

func TestPoint2D_Helpers(t *testing.T) {
	a, b := Pt(10, 10), Pt(130, 10)

	if got := a.Distance(b); got != 120 {
		t.Errorf("Distance = %v, want 120", got)
	}
	if got := a.Midpoint(b); got != Pt(70, 10) {
		t.Errorf("Midpoint = %v, want (70, 10)", got)
	}
	if got := a.Angle(b); got != 0 {
		t.Errorf("Angle = %v, want 0", got)
	}
	if got := Pt(2.5, 3.49).ImagePoint(); got != (image.Point{X: 3, Y: 3}) {
		t.Errorf("ImagePoint = %v, want (3,3)", got)
	}
	if !Pt(1, 5).Less(Pt(2, 0)) || !Pt(1, 1).Less(Pt(1, 2)) || Pt(1, 2).Less(Pt(1, 2)) {
		t.Error("Less should order by X then Y")
	}
	if got := Centroid([]Point2D{a, b}); got != Pt(70, 10) {
		t.Errorf("Centroid = %v, want (70, 10)", got)
	}
	if got := Centroid(nil); got != (Point2D{}) {
		t.Errorf("Centroid(nil) = %v, want zero", got)
	}
}
