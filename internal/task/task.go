package task

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/metrics"
	"github.com/scan-io-git/triageio/internal/notify"
)

// Phase is a slice of the overall progress.
type Phase string

const (
	PhaseAcquisition       Phase = "acquisition"
	PhaseFeatureExtraction Phase = "feature_extraction"
	PhaseStage1            Phase = "stage1"
	PhaseStage2            Phase = "stage2"
	PhaseStage3            Phase = "stage3"
	PhaseFinalization      Phase = "finalization"
)

// Phases in execution order.
var Phases = []Phase{PhaseAcquisition, PhaseFeatureExtraction, PhaseStage1, PhaseStage2, PhaseStage3, PhaseFinalization}

// Weights split overall progress between phases and sum to 1.
type Weights map[Phase]float64

// DefaultWeights returns the stock split.
func DefaultWeights() Weights {
	return Weights{
		PhaseAcquisition:       0.1,
		PhaseFeatureExtraction: 0.3,
		PhaseStage1:            0.2,
		PhaseStage2:            0.25,
		PhaseStage3:            0.1,
		PhaseFinalization:      0.05,
	}
}

// WeightsFromConfig uses the configured split, or the defaults when every weight is zero.
func WeightsFromConfig(w config.ProgressWeights) Weights {
	out := Weights{
		PhaseAcquisition:       w.Acquisition,
		PhaseFeatureExtraction: w.FeatureExtraction,
		PhaseStage1:            w.Stage1,
		PhaseStage2:            w.Stage2,
		PhaseStage3:            w.Stage3,
		PhaseFinalization:      w.Finalization,
	}
	for _, v := range out {
		if v != 0 {
			return out
		}
	}
	return DefaultWeights()
}

// Validate requires non-negative weights summing to 1.
func (w Weights) Validate() error {
	sum := 0.0
	for _, p := range Phases {
		v := w[p]
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("progress weight %s must be non-negative, got %v", p, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("progress weights must sum to 1, got %.4f", sum)
	}
	return nil
}

// publishTimeout bounds one hand-off to the sink. Sinks doing network I/O queue events instead of
// blocking the task.
const publishTimeout = 5 * time.Second

// Task is one pipeline run. All methods are safe for concurrent use.
type Task struct {
	id      string
	created time.Time
	weights Weights
	sink    notify.Sink
	logger  hclog.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     State
	updated   time.Time
	phase     Phase
	fractions map[Phase]float64
	progress  float64
	message   string
	errs      []findings.ItemError
	failure   string
	result    *findings.Result

	// held while publishing so events leave in the order they were produced
	pubMu sync.Mutex

	cancelOnce sync.Once
	done       chan struct{}
}

// Options configures a new Task. Zero values take defaults.
type Options struct {
	ID      string
	Weights Weights
	Sink    notify.Sink
	Logger  hclog.Logger
	Clock   func() time.Time
}

// New creates a task in the CREATED state.
func New(opts Options) *Task {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Weights == nil {
		opts.Weights = DefaultWeights()
	}
	if opts.Sink == nil {
		opts.Sink = notify.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	now := opts.Clock()
	return &Task{
		id:        opts.ID,
		created:   now,
		weights:   opts.Weights,
		sink:      opts.Sink,
		logger:    opts.Logger.With("task", opts.ID),
		now:       opts.Clock,
		state:     StateCreated,
		updated:   now,
		phase:     PhaseAcquisition,
		fractions: map[Phase]float64{},
		done:      make(chan struct{}),
	}
}

func (t *Task) ID() string { return t.id }

func (t *Task) CreatedAt() time.Time { return t.created }

// Logger is the task-scoped logger.
func (t *Task) Logger() hclog.Logger { return t.logger }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress is the overall percentage in [0,100]. It never decreases.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Transition moves the task to state to.
func (t *Task) Transition(to State) error {
	return t.transition(to, "", "")
}

// Fail moves the task to FAILED with err as the reason.
func (t *Task) Fail(err error) error {
	reason := "failed"
	if err != nil {
		reason = err.Error()
	}
	return t.transition(StateFailed, reason, reason)
}

// Complete stores the result and moves the task to COMPLETED with full progress.
func (t *Task) Complete(result *findings.Result) error {
	t.mu.Lock()
	t.result = result
	t.mu.Unlock()
	return t.transition(StateCompleted, "analysis completed", "")
}

// MarkCancelled stores the partial result and moves the task to CANCELLED.
func (t *Task) MarkCancelled(result *findings.Result) error {
	t.mu.Lock()
	t.result = result
	t.mu.Unlock()
	return t.transition(StateCancelled, "cancelled", "")
}

func (t *Task) transition(to State, message, failure string) error {
	t.mu.Lock()
	from := t.state
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	t.state = to
	t.updated = t.now()
	if failure != "" {
		t.failure = failure
	}
	if message == "" {
		message = string(to)
	}
	t.message = message
	if to == StateCompleted {
		for _, p := range Phases {
			t.fractions[p] = 1
		}
		t.progress = 100
	}

	evType := notify.TypeProgress
	switch to {
	case StateCompleted:
		evType = notify.TypeCompleted
	case StateFailed:
		evType = notify.TypeFailed
	case StateCancelled:
		evType = notify.TypeCancelled
	}
	ev := t.eventLocked(evType)
	ev.Error = failure
	t.pubMu.Lock()
	t.mu.Unlock()

	t.logger.Debug("task state changed", "from", from, "to", to)
	if to.Terminal() {
		metrics.TaskFinished(string(to))
		t.cancelOnce.Do(func() { close(t.done) })
	}
	t.publish(ev)
	return nil
}

// SetStageProgress records the completion fraction of phase. Fractions clamp to [0,1] and never
// move backwards; overall progress is republished when it changes.
func (t *Task) SetStageProgress(phase Phase, fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))

	t.mu.Lock()
	if t.state.Terminal() || fraction <= t.fractions[phase] {
		t.mu.Unlock()
		return
	}
	t.fractions[phase] = fraction
	t.phase = phase
	t.updated = t.now()

	total := 0.0
	for p, f := range t.fractions {
		total += t.weights[p] * f
	}
	next := math.Round(math.Min(total, 1)*10000) / 100
	if next <= t.progress {
		t.mu.Unlock()
		return
	}
	t.progress = next
	ev := t.eventLocked(notify.TypeProgress)
	t.pubMu.Lock()
	t.mu.Unlock()

	t.publish(ev)
}

func (t *Task) eventLocked(typ string) notify.ProgressEvent {
	return notify.ProgressEvent{
		Type:    typ,
		TaskID:  t.id,
		Stage:   string(t.phase),
		State:   string(t.state),
		Percent: t.progress,
		Message: t.message,
		Time:    t.updated,
	}
}

// publish must be called with pubMu held; it releases it.
func (t *Task) publish(ev notify.ProgressEvent) {
	defer t.pubMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := t.sink.Publish(ctx, ev); err != nil {
		t.logger.Warn("failed to publish progress event", "percent", ev.Percent, "error", err)
	}
}

// Cancel requests cancellation. Running stages stop at their next checkpoint; a task that has
// not started is cancelled at once.
func (t *Task) Cancel() {
	t.mu.Lock()
	created := t.state == StateCreated
	terminal := t.state.Terminal()
	t.mu.Unlock()
	if terminal {
		return
	}
	t.cancelOnce.Do(func() { close(t.done) })
	if created {
		_ = t.transition(StateCancelled, "cancelled before start", "")
	}
}

// Cancelled reports whether cancellation was requested.
func (t *Task) Cancelled() bool {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.state != StateCompleted && t.state != StateFailed
	default:
		return false
	}
}

// Done is closed when cancellation is requested or the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// WithCancel derives a context that is cancelled together with the task.
func (t *Task) WithCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			if t.Cancelled() {
				cancel()
			}
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// RecordError appends a per-item failure.
func (t *Task) RecordError(e findings.ItemError) {
	t.mu.Lock()
	t.errs = append(t.errs, e)
	t.mu.Unlock()
	t.logger.Warn("item failed", "stage", e.Stage, "file", e.File, "kind", e.Kind, "message", e.Message)
}

// Errors returns a copy of the recorded per-item failures.
func (t *Task) Errors() []findings.ItemError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]findings.ItemError(nil), t.errs...)
}

// Result returns the stored result, nil until the task completes or is cancelled.
func (t *Task) Result() *findings.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Info is a point-in-time view of a task.
type Info struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Phase      Phase             `json:"phase"`
	Progress   float64           `json:"progress"`
	Message    string            `json:"message,omitempty"`
	Failure    string            `json:"failure,omitempty"`
	ErrorCount int               `json:"error_count"`
	Fractions  map[Phase]float64 `json:"fractions"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Snapshot returns the current view of the task.
func (t *Task) Snapshot() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	fr := make(map[Phase]float64, len(t.fractions))
	for k, v := range t.fractions {
		fr[k] = v
	}
	return Info{
		ID:         t.id,
		State:      t.state,
		Phase:      t.phase,
		Progress:   t.progress,
		Message:    t.message,
		Failure:    t.failure,
		ErrorCount: len(t.errs),
		Fractions:  fr,
		CreatedAt:  t.created,
		UpdatedAt:  t.updated,
	}
}
