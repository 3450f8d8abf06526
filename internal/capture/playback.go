package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoMoreFrames is returned by a non-looping PlaybackCamera once every
// frame has been read.
var ErrNoMoreFrames = errors.New("no more frames")

// PlaybackCamera serves a fixed sequence of frames. It stands in for the
// device when analyzing image files and in tests.
type PlaybackCamera struct {
	mu      sync.Mutex
	frames  []gocv.Mat
	index   int
	loop    bool
	running bool
	reads   int
}

// NewPlaybackCamera takes ownership of frames; Release closes them.
func NewPlaybackCamera(frames []gocv.Mat, loop bool) *PlaybackCamera {
	return &PlaybackCamera{frames: frames, loop: loop}
}

// LoadImage returns a looping PlaybackCamera serving the image at path.
func LoadImage(path string) (*PlaybackCamera, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("reading image %s: unreadable or empty", path)
	}
	return NewPlaybackCamera([]gocv.Mat{img}, true), nil
}

// Open starts playback from the first frame.
func (c *PlaybackCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

// Close stops playback. The frames stay available for a later Open.
func (c *PlaybackCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

// Release closes the owned frames.
func (c *PlaybackCamera) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.frames {
		c.frames[i].Close()
	}
	c.frames = nil
	c.running = false
}

// ReadFrame returns a clone of the next frame.
func (c *PlaybackCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}
	if len(c.frames) == 0 {
		return nil, errors.New("no frames loaded")
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoMoreFrames
		}
		c.index = 0
	}

	frame := c.frames[c.index].Clone()
	c.index++
	c.reads++
	return &frame, nil
}

// Reads returns how many frames were served.
func (c *PlaybackCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *PlaybackCamera) SetFPS(int) {}
func (c *PlaybackCamera) FPS() int   { return DefaultFPS }

func (c *PlaybackCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
