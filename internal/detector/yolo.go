package detector

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/pkg/geometry"
)

// YOLOConfig configures a YOLOv8-style ONNX model.
type YOLOConfig struct {
	ModelPath string
	// InputSize is the square network input edge in pixels.
	InputSize int
	// Oriented models emit a trailing angle channel (radians).
	Oriented bool
	// NMSThreshold is the IoU above which overlapping boxes are suppressed.
	NMSThreshold float64
	// ClassID keeps only one class; -1 keeps all.
	ClassID int
}

// DefaultYOLOConfig returns the settings of the stock 640px exports.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		InputSize:    640,
		NMSThreshold: 0.45,
		ClassID:      -1,
	}
}

// YOLODetector runs a YOLO ONNX network through OpenCV's DNN module. It
// serves both as the gasket ObjectDetector and the hole FeatureDetector.
type YOLODetector struct {
	config YOLOConfig
	net    gocv.Net
	mu     sync.Mutex
}

// NewYOLODetector loads the network from config.ModelPath.
func NewYOLODetector(config YOLOConfig) (*YOLODetector, error) {
	if config.InputSize <= 0 {
		config.InputSize = 640
	}
	net := gocv.ReadNetFromONNX(config.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot read %s", ErrModelUnavailable, config.ModelPath)
	}
	return &YOLODetector{config: config, net: net}, nil
}

// DetectObject returns the most confident box.
func (d *YOLODetector) DetectObject(_ context.Context, frame *gocv.Mat, confidence float64) (*RegionBox, error) {
	boxes, err := d.infer(frame, confidence)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return &best, nil
}

// DetectFeatures returns every box above confidence after non-maximum
// suppression, ordered left to right.
func (d *YOLODetector) DetectFeatures(_ context.Context, crop *gocv.Mat, confidence float64) ([]RegionBox, error) {
	boxes, err := d.infer(crop, confidence)
	if err != nil || len(boxes) == 0 {
		return nil, err
	}

	rects := make([]image.Rectangle, len(boxes))
	scores := make([]float32, len(boxes))
	for i, b := range boxes {
		rects[i] = b.Bounds()
		scores[i] = float32(b.Confidence)
	}
	keep := gocv.NMSBoxes(rects, scores, float32(confidence), float32(d.config.NMSThreshold))

	result := make([]RegionBox, 0, len(keep))
	for _, i := range keep {
		result = append(result, boxes[i])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Center.Less(result[j].Center)
	})
	return result, nil
}

// infer letterboxes the image into a square, runs the network and decodes
// the [1, 4+classes(+1), N] output back to image coordinates.
func (d *YOLODetector) infer(img *gocv.Mat, confidence float64) ([]RegionBox, error) {
	if img == nil || img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	height, width := img.Rows(), img.Cols()
	maxDim := max(height, width)

	square := gocv.NewMatWithSize(maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	if img.Channels() == 1 {
		gocv.CvtColor(*img, &roi, gocv.ColorGrayToBGR)
	} else {
		img.CopyTo(&roi)
	}
	roi.Close()

	size := d.config.InputSize
	scale := float64(maxDim) / float64(size)

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	channels, anchors := dims[1], dims[2]
	classes := channels - 4
	if d.config.Oriented {
		classes--
	}
	if classes < 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	var boxes []RegionBox
	for a := 0; a < anchors; a++ {
		classID, score := -1, float32(0)
		for c := 0; c < classes; c++ {
			if d.config.ClassID >= 0 && c != d.config.ClassID {
				continue
			}
			if s := out.GetFloatAt3(0, 4+c, a); s > score {
				classID, score = c, s
			}
		}
		if classID < 0 || float64(score) < confidence {
			continue
		}

		cx := float64(out.GetFloatAt3(0, 0, a)) * scale
		cy := float64(out.GetFloatAt3(0, 1, a)) * scale
		w := float64(out.GetFloatAt3(0, 2, a)) * scale
		h := float64(out.GetFloatAt3(0, 3, a)) * scale

		var b RegionBox
		if d.config.Oriented {
			angle := float64(out.GetFloatAt3(0, 4+classes, a))
			b = OrientedBox(geometry.Pt(cx, cy), w, h, angle*180/math.Pi, float64(score))
		} else {
			b = Rect(cx-w/2, cy-h/2, cx+w/2, cy+h/2, float64(score))
		}
		b.ClassID = classID
		boxes = append(boxes, b)
	}
	return boxes, nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
