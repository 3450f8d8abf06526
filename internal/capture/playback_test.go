package capture

import (
	"errors"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func frames(n int) []gocv.Mat {
	out := make([]gocv.Mat, n)
	for i := range out {
		out[i] = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*40), 0, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
	}
	return out
}

func TestPlaybackCamera_Playback(t *testing.T) {
	cam := NewPlaybackCamera(frames(2), false)
	defer cam.Release()

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Fatalf("ReadFrame() before Open error = %v, want ErrCameraNotOpen", err)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() %d error = %v", i, err)
		}
		if got := f.GetVecbAt(0, 0)[0]; got != uint8(i*40) {
			t.Errorf("frame %d blue = %d, want %d", i, got, i*40)
		}
		f.Close()
	}

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrNoMoreFrames) {
		t.Errorf("third ReadFrame() error = %v, want ErrNoMoreFrames", err)
	}
	if cam.Reads() != 2 {
		t.Errorf("Reads() = %d, want 2", cam.Reads())
	}
}

func TestPlaybackCamera_Loop(t *testing.T) {
	cam := NewPlaybackCamera(frames(1), true)
	defer cam.Release()
	cam.Open()

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestLoadImage(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 200, 10, 0), 30, 40, gocv.MatTypeCV8UC3)
	defer img.Close()
	path := filepath.Join(t.TempDir(), "frame.png")
	if !gocv.IMWrite(path, img) {
		t.Fatal("IMWrite failed")
	}

	cam, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	defer cam.Release()
	cam.Open()

	f, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	defer f.Close()
	if f.Cols() != 40 || f.Rows() != 30 {
		t.Errorf("size = %dx%d, want 40x30", f.Cols(), f.Rows())
	}

	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("LoadImage() of a missing file should fail")
	}
}
