package inspection

// Stage names a pipeline checkpoint.
type Stage string

const (
	StageCalibrated       Stage = "calibrated"
	StageGasketLocated    Stage = "gasket_located"
	StageHolesLocated     Stage = "holes_located"
	StageCountRejected    Stage = "count_rejected"
	StageMetrics          Stage = "metrics"
	StageDistanceRejected Stage = "distance_rejected"
	StageValidated        Stage = "validated"
	StageNotchesPlaced    Stage = "notches_placed"
	StageRendered         Stage = "rendered"
	StageSucceeded        Stage = "succeeded"
	StageFailed           Stage = "failed"
)

// Checkpoint is delivered to an Observer. Data is a copy of the partial
// result at that point; observers must treat it as read-only.
type Checkpoint struct {
	Attempt int     `json:"attempt"`
	Stage   Stage   `json:"stage"`
	Reason  string  `json:"reason,omitempty"`
	Data    *Result `json:"data,omitempty"`
}

// Observer receives checkpoints synchronously on the inspection goroutine,
// at most once per stage per attempt. A slow observer stalls the attempt.
type Observer interface {
	OnCheckpoint(cp Checkpoint)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Checkpoint)

// OnCheckpoint calls f(cp).
func (f ObserverFunc) OnCheckpoint(cp Checkpoint) { f(cp) }

// MultiObserver fans a checkpoint out to every non-nil observer in order.
type MultiObserver []Observer

// OnCheckpoint implements Observer.
func (m MultiObserver) OnCheckpoint(cp Checkpoint) {
	for _, o := range m {
		if o != nil {
			o.OnCheckpoint(cp)
		}
	}
}

// attemptObserver enforces the once-per-stage contract within an attempt.
type attemptObserver struct {
	next    Observer
	attempt int
	seen    map[Stage]bool
}

func newAttemptObserver(next Observer, attempt int) *attemptObserver {
	return &attemptObserver{next: next, attempt: attempt, seen: make(map[Stage]bool)}
}

func (o *attemptObserver) emit(stage Stage, data *Result, reason string) {
	if o.next == nil || o.seen[stage] {
		return
	}
	o.seen[stage] = true
	cp := Checkpoint{Attempt: o.attempt, Stage: stage, Reason: reason}
	if data != nil {
		cp.Data = data.snapshot()
	}
	o.next.OnCheckpoint(cp)
}
