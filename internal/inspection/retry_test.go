package inspection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/config"
)

func TestRun_KeepsLastImageAndData(t *testing.T) {
	h := newHarness(t)
	first := &Result{Attempt: 1}
	second := &Result{Attempt: 2}

	out := h.analyzer.Run(context.Background(), 2, func(_ context.Context, n int) AttemptResult {
		if n == 1 {
			return AttemptResult{Attempt: n, Image: []byte("first"), Data: first, Err: ErrGeometryRejected}
		}
		return AttemptResult{Attempt: n, Data: second, Err: ErrNoHoles}
	})

	assert.False(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []byte("first"), out.Image, "image of the last attempt that rendered")
	assert.Same(t, second, out.Data)
	assert.ErrorIs(t, out.Err, ErrNoHoles)
}

func TestRun_StopsOnFirstSuccess(t *testing.T) {
	h := newHarness(t)
	calls := 0

	out := h.analyzer.Run(context.Background(), 5, func(_ context.Context, n int) AttemptResult {
		calls++
		if n == 2 {
			return AttemptResult{Attempt: n, Success: true, Image: []byte("ok"), Data: &Result{Attempt: n}}
		}
		return AttemptResult{Attempt: n, Image: []byte("bad"), Data: &Result{Attempt: n}, Err: ErrNoGasket}
	})

	assert.True(t, out.Success)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []byte("ok"), out.Image)
	assert.NoError(t, out.Err)
}

func TestRun_MaxAttemptsFromSettings(t *testing.T) {
	h := newHarness(t)
	h.cfg.Update(func(s *config.Settings) { s.Vision.MaxAttempts = 4 })
	calls := 0

	out := h.analyzer.Run(context.Background(), 0, func(_ context.Context, n int) AttemptResult {
		calls++
		return AttemptResult{Attempt: n, Data: &Result{Attempt: n}, Err: ErrNoHoles}
	})

	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, out.Attempts)
}

func TestRun_ContextCheckedBetweenAttempts(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := h.analyzer.Run(ctx, 3, func(_ context.Context, n int) AttemptResult {
		cancel()
		return AttemptResult{Attempt: n, Data: &Result{Attempt: n}, Err: ErrNoFiducial}
	})

	assert.Equal(t, 1, out.Attempts, "a started attempt completes")
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.ErrorIs(t, out.Err, ErrNoFiducial)
}

func TestAnalyzeWithRetries_SucceedsOnRetry(t *testing.T) {
	h := newHarness(t)
	h.holes.QueueBoxes(holeBoxes(3))

	ok, img, data := h.analyzer.AnalyzeWithRetries(context.Background(), &h.frame, 3)

	require.True(t, ok, data.Error)
	assert.NotNil(t, img)
	assert.Equal(t, 2, data.Attempt)
	assert.Equal(t, 2, h.holes.Calls())
	assert.Contains(t, h.rec.stages(1), StageCountRejected)
	assert.Contains(t, h.rec.stages(2), StageSucceeded)
}

func TestAnalyzeWithRetries_ReadsSettingsEachAttempt(t *testing.T) {
	h := newHarness(t)
	// 41mm expected: accuracy 97.6% fails the default 98% tolerance
	h.tpl.ExpectedSeparationMM = 41
	h.analyzer.Observer = ObserverFunc(func(cp Checkpoint) {
		if cp.Stage == StageDistanceRejected {
			h.cfg.Update(func(s *config.Settings) { s.Vision.DistanceTolerancePct = 95 })
		}
	})

	ok, _, data := h.analyzer.AnalyzeWithRetries(context.Background(), &h.frame, 3)

	require.True(t, ok, data.Error)
	assert.Equal(t, 2, data.Attempt)
}

type frameSource struct {
	errs  []error
	calls int
}

func (s *frameSource) NextFrame(context.Context) (*gocv.Mat, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	return &m, nil
}

func TestAnalyzeSource_FreshFramePerAttempt(t *testing.T) {
	h := newHarness(t)
	h.holes.QueueBoxes(holeBoxes(2), holeBoxes(2))
	src := &frameSource{errs: []error{errors.New("camera busy")}}

	out := h.analyzer.AnalyzeSource(context.Background(), src, 3)

	assert.False(t, out.Success)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, h.holes.Calls(), "first attempt never reached the detector")

	out = h.analyzer.AnalyzeSource(context.Background(), &frameSource{}, 3)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
}
