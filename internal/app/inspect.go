package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gasketvision/internal/hooks"
	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/store"
	"github.com/ayusman/gasketvision/internal/telemetry"
)

// Inspect runs the bounded retries on frames from the configured source.
// A rejected part is reported in the Outcome; the error is reserved for
// failures to run at all.
func (a *App) Inspect(ctx context.Context) (inspection.Outcome, error) {
	if a.config.Source == nil {
		return inspection.Outcome{}, ErrNoCamera
	}
	return a.inspect(ctx, func() inspection.Outcome {
		return a.analyzer.AnalyzeSource(ctx, a.config.Source, 0)
	})
}

// InspectFrame runs the bounded retries on frame.
func (a *App) InspectFrame(ctx context.Context, frame *gocv.Mat) (inspection.Outcome, error) {
	if frame == nil || frame.Empty() {
		return inspection.Outcome{}, errors.New("empty frame")
	}
	return a.inspect(ctx, func() inspection.Outcome {
		return a.analyzer.Run(ctx, 0, func(ctx context.Context, n int) inspection.AttemptResult {
			return a.analyzer.AnalyzeFrame(ctx, frame, n)
		})
	})
}

func (a *App) inspect(ctx context.Context, run func() inspection.Outcome) (inspection.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return inspection.Outcome{}, err
	}

	a.inspectMu.Lock()
	defer a.inspectMu.Unlock()

	start := time.Now()
	out := run()
	elapsed := time.Since(start)

	log := a.logger.With("success", out.Success, "attempts", out.Attempts, "duration", elapsed.Round(time.Millisecond))
	if out.Err != nil {
		log.Warn("inspection rejected", "reason", out.Err.Error())
	} else {
		log.Info("inspection passed")
	}

	if a.config.Metrics != nil {
		a.config.Metrics.ObserveInspection(out.Success, elapsed)
	}
	a.remember(out)
	a.record(out)
	a.dispatchHooks(out)
	return out, nil
}

func (a *App) remember(out inspection.Outcome) {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	a.lastImage = out.Image
	a.lastData = out.Data
}

// record persists the history row and, for a passed part, the observed
// extremes distance of its template. Store failures are reported but do
// not change the outcome.
func (a *App) record(out inspection.Outcome) {
	row := &store.Inspection{
		Success:  out.Success,
		Attempts: out.Attempts,
	}
	if out.Err != nil {
		row.Reason = out.Err.Error()
	}

	var tpl *store.Template
	if d := out.Data; d != nil {
		row.TemplateName = d.Template
		row.EarlyExit = string(d.EarlyExit)
		if d.Holes != nil {
			row.DistanceMM = d.Holes.DistanceMM
		}
		if raw, err := json.Marshal(d); err == nil {
			row.Data = raw
		}
		if d.Template != "" {
			if t, err := a.config.Store.Templates().GetByName(d.Template); err == nil {
				tpl = t
				row.TemplateID = t.ID
			}
		}
	}

	if err := a.config.Store.Inspections().Create(row); err != nil {
		a.logger.Error("recording inspection failed", "error", err)
		telemetry.CaptureError(err, "store", map[string]string{"operation": "record_inspection"})
	}

	if out.Success && tpl != nil && row.DistanceMM != nil {
		if err := a.config.Store.Templates().RecordAnalysis(tpl.ID, *row.DistanceMM); err != nil {
			a.logger.Error("recording analysis failed", "template", tpl.Name, "error", err)
			telemetry.CaptureError(err, "store", map[string]string{"operation": "record_analysis"})
		}
	}
}

// dispatchHooks runs the hooks in the background so the caller gets the
// outcome without waiting for site scripts.
func (a *App) dispatchHooks(out inspection.Outcome) {
	if a.config.Hooks == nil {
		return
	}
	req := &hooks.Request{Event: hooks.EventFailed, Attempts: out.Attempts, Data: json.RawMessage("null")}
	if out.Success {
		req.Event = hooks.EventPassed
	}
	if out.Data != nil {
		req.Template = out.Data.Template
		if raw, err := json.Marshal(out.Data); err == nil {
			req.Data = raw
		}
	}

	a.hookWG.Add(1)
	go func() {
		defer a.hookWG.Done()
		if err := a.config.Hooks.Dispatch(context.Background(), req); err != nil {
			telemetry.CaptureError(err, "hooks", map[string]string{"event": req.Event})
		}
	}()
}
