package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ServiceConfig configures the external detection runtime.
type ServiceConfig struct {
	Command     string
	Args        []string
	Timeout     time.Duration
	IdleTimeout time.Duration
	Stderr      io.Writer
}

// ServiceDetector talks to a long-running detection process over its
// stdin/stdout. It lets models that only run on another runtime be used as
// object and feature detectors.
//
// Each request is one JSON header line followed by a 4-byte big-endian
// length and a JPEG image. The process answers with one JSON line:
//
//	{"boxes": [{"type": "obb", "center": {...}, "width": ..., ...}]}
//	{"error": "..."}
type ServiceDetector struct {
	config   ServiceConfig
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	mu       sync.Mutex
	started  bool
	idleTime *time.Timer
}

// NewServiceDetector creates a detector. The process is started lazily on
// the first request.
func NewServiceDetector(config ServiceConfig) (*ServiceDetector, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("%w: no detection service command", ErrModelUnavailable)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	return &ServiceDetector{config: config}, nil
}

// Task selects the model inside the service.
type Task string

const (
	TaskGasket Task = "gasket"
	TaskHoles  Task = "holes"
)

type serviceRequest struct {
	Task       Task    `json:"task"`
	Confidence float64 `json:"confidence"`
}

type serviceResponse struct {
	Boxes []RegionBox `json:"boxes"`
	Error string      `json:"error,omitempty"`
}

// Object returns an ObjectDetector view bound to the gasket task.
func (d *ServiceDetector) Object() ObjectDetector {
	return serviceObject{d}
}

// Features returns a FeatureDetector view bound to the holes task.
func (d *ServiceDetector) Features() FeatureDetector {
	return serviceFeatures{d}
}

// Detect sends one image to the service.
func (d *ServiceDetector) Detect(ctx context.Context, img *gocv.Mat, task Task, confidence float64) ([]RegionBox, error) {
	if img == nil || img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	data := buf.GetBytes()

	header, err := json.Marshal(serviceRequest{Task: task, Confidence: confidence})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	type result struct {
		resp serviceResponse
		err  error
	}
	done := make(chan result, 1)
	stdin, stdout := d.stdin, d.stdout
	go func() {
		resp, err := exchange(stdin, stdout, header, data)
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// The pipe is in an unknown state; restart on the next request.
		d.kill()
		<-done
		d.shutdown()
		return nil, fmt.Errorf("detection service: %w", ctx.Err())
	}
	if res.err != nil {
		d.kill()
		d.shutdown()
		return nil, res.err
	}
	if res.resp.Error != "" {
		return nil, fmt.Errorf("detection service: %s", res.resp.Error)
	}

	boxes := make([]RegionBox, 0, len(res.resp.Boxes))
	for _, b := range res.resp.Boxes {
		b = b.normalize()
		if b.Valid() && b.Confidence >= confidence {
			boxes = append(boxes, b)
		}
	}

	d.resetIdleTimer()
	return boxes, nil
}

func exchange(stdin io.Writer, stdout *bufio.Reader, header, data []byte) (serviceResponse, error) {
	var resp serviceResponse

	if _, err := stdin.Write(append(header, '\n')); err != nil {
		return resp, fmt.Errorf("write header: %w", err)
	}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	if _, err := stdin.Write(length); err != nil {
		return resp, fmt.Errorf("write length: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		return resp, fmt.Errorf("write data: %w", err)
	}

	line, err := stdout.ReadBytes('\n')
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

// Close shuts down the process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.config.Command, d.config.Args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if d.config.Stderr != nil {
		d.cmd.Stderr = d.config.Stderr
	} else {
		d.cmd.Stderr = os.Stderr
	}

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("%w: start detection service: %v", ErrModelUnavailable, err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	return nil
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}
	if d.idleTime != nil {
		d.idleTime.Stop()
		d.idleTime = nil
	}
	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func (d *ServiceDetector) kill() {
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
}

func (d *ServiceDetector) resetIdleTimer() {
	if d.idleTime != nil {
		d.idleTime.Stop()
	}
	d.idleTime = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

type serviceObject struct{ d *ServiceDetector }

func (s serviceObject) DetectObject(ctx context.Context, frame *gocv.Mat, confidence float64) (*RegionBox, error) {
	boxes, err := s.d.Detect(ctx, frame, TaskGasket, confidence)
	if err != nil || len(boxes) == 0 {
		return nil, err
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return &best, nil
}

// Close is a no-op; the owning ServiceDetector is closed once.
func (s serviceObject) Close() error { return nil }

type serviceFeatures struct{ d *ServiceDetector }

func (s serviceFeatures) DetectFeatures(ctx context.Context, crop *gocv.Mat, confidence float64) ([]RegionBox, error) {
	boxes, err := s.d.Detect(ctx, crop, TaskHoles, confidence)
	if err != nil {
		return nil, err
	}
	sort.Slice(boxes, func(i, j int) bool {
		return boxes[i].Center.Less(boxes[j].Center)
	})
	return boxes, nil
}

func (s serviceFeatures) Close() error { return nil }
