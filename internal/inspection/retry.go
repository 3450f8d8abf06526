package inspection

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// DefaultMaxAttempts is used when neither the caller nor the settings give
// a positive bound.
const DefaultMaxAttempts = 3

// Outcome is the result of a bounded retry run.
type Outcome struct {
	Success  bool
	Image    []byte
	Data     *Result
	Attempts int
	Err      error
}

// FrameSource supplies a fresh frame for each attempt. The caller of
// NextFrame closes the returned Mat.
type FrameSource interface {
	NextFrame(ctx context.Context) (*gocv.Mat, error)
}

// AnalyzeWithRetries runs AnalyzeFrame on the same frame up to maxAttempts
// times and returns on the first success. After a failed run it returns the
// data of the last attempt and the most recent image any attempt produced.
// maxAttempts <= 0 uses vision.max_attempts.
func (a *Analyzer) AnalyzeWithRetries(ctx context.Context, frame *gocv.Mat, maxAttempts int) (bool, []byte, *Result) {
	out := a.Run(ctx, maxAttempts, func(ctx context.Context, n int) AttemptResult {
		return a.AnalyzeFrame(ctx, frame, n)
	})
	return out.Success, out.Image, out.Data
}

// AnalyzeSource is AnalyzeWithRetries with a new frame from src for each
// attempt, so a transient capture problem is not repeated.
func (a *Analyzer) AnalyzeSource(ctx context.Context, src FrameSource, maxAttempts int) Outcome {
	return a.Run(ctx, maxAttempts, func(ctx context.Context, n int) AttemptResult {
		frame, err := src.NextFrame(ctx)
		if err != nil {
			data := newResult(n)
			data.Error = "capturing frame: " + err.Error()
			return AttemptResult{Attempt: n, Data: data, Err: err}
		}
		defer frame.Close()
		return a.AnalyzeFrame(ctx, frame, n)
	})
}

// Run drives attempts strictly one after another. The context is checked
// only between attempts; a started attempt always completes.
func (a *Analyzer) Run(ctx context.Context, maxAttempts int, attempt func(context.Context, int) AttemptResult) Outcome {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
		if s, err := a.Config.Snapshot(); err == nil && s.Vision.MaxAttempts > 0 {
			maxAttempts = s.Vision.MaxAttempts
		}
	}

	var out Outcome
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 && ctx.Err() != nil {
			if out.Err == nil {
				out.Err = ctx.Err()
			} else {
				out.Err = errors.Join(out.Err, ctx.Err())
			}
			break
		}

		res := attempt(ctx, n)
		out.Attempts = n
		out.Data = res.Data
		out.Err = res.Err
		if res.Image != nil {
			out.Image = res.Image
		}

		if res.Success {
			out.Success = true
			out.Image = res.Image
			out.Err = nil
			a.logger().Info("inspection passed", "attempt", n)
			return out
		}
	}

	a.logger().Warn("inspection failed", "attempts", out.Attempts, "error", out.Err)
	return out
}
