package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/internal/findings"
	"github.com/scan-io-git/triageio/internal/notify"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.ProgressEvent
}

func (r *recordingSink) Publish(_ context.Context, ev notify.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) snapshot() []notify.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.ProgressEvent(nil), r.events...)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateStage1Running, true},
		{StateCreated, StateStage2Running, false},
		{StateStage1Running, StateStage1Done, true},
		{StateStage1Done, StateStage2Running, true},
		{StateStage1Done, StateCompleted, true},
		{StateStage2Done, StateCompleted, true},
		{StateStage2Running, StateStage3Running, false},
		{StateStage3Running, StateCompleted, true},
		{StateStage2Running, StateCancelled, true},
		{StateCreated, StateFailed, true},
		{StateCompleted, StateFailed, false},
		{StateCancelled, StateStage1Running, false},
		{StateFailed, StateCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTaskHappyPath(t *testing.T) {
	sink := &recordingSink{}
	task := New(Options{ID: "t1", Sink: sink})

	for _, s := range []State{StateStage1Running, StateStage1Done, StateStage2Running, StateStage2Done, StateStage3Running} {
		require.NoError(t, task.Transition(s))
	}
	result := &findings.Result{TaskID: "t1"}
	require.NoError(t, task.Complete(result))

	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, 100.0, task.Progress())
	assert.Same(t, result, task.Result())
	assert.False(t, task.Cancelled())

	events := sink.snapshot()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, notify.TypeCompleted, last.Type)
	assert.Equal(t, 100.0, last.Percent)

	var terr *TransitionError
	assert.ErrorAs(t, task.Transition(StateStage1Running), &terr)
}

func TestIllegalTransition(t *testing.T) {
	task := New(Options{})
	err := task.Transition(StateStage3Running)
	assert.EqualError(t, err, "illegal task transition CREATED -> STAGE3_RUNNING")
	assert.Equal(t, StateCreated, task.State())
}

func TestProgressIsWeightedAndMonotonic(t *testing.T) {
	sink := &recordingSink{}
	task := New(Options{Sink: sink})

	task.SetStageProgress(PhaseAcquisition, 1)
	assert.InDelta(t, 10.0, task.Progress(), 1e-9)

	task.SetStageProgress(PhaseFeatureExtraction, 0.5)
	assert.InDelta(t, 25.0, task.Progress(), 1e-9)

	// going backwards or repeating is ignored
	task.SetStageProgress(PhaseFeatureExtraction, 0.2)
	task.SetStageProgress(PhaseFeatureExtraction, 0.5)
	assert.InDelta(t, 25.0, task.Progress(), 1e-9)

	task.SetStageProgress(PhaseStage1, 7)
	assert.InDelta(t, 45.0, task.Progress(), 1e-9)

	events := sink.snapshot()
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Percent, events[i-1].Percent)
	}
}

func TestConcurrentProgressUpdates(t *testing.T) {
	sink := &recordingSink{}
	task := New(Options{Sink: sink})

	var wg sync.WaitGroup
	for _, p := range Phases {
		wg.Add(1)
		go func(p Phase) {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				task.SetStageProgress(p, float64(i)/100)
			}
		}(p)
	}
	wg.Wait()

	assert.InDelta(t, 100.0, task.Progress(), 1e-9)
	events := sink.snapshot()
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "events published out of order")
	}
}

func TestCancel(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		task := New(Options{})
		task.Cancel()
		assert.Equal(t, StateCancelled, task.State())
		assert.True(t, task.Cancelled())
		select {
		case <-task.Done():
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("while running", func(t *testing.T) {
		task := New(Options{})
		require.NoError(t, task.Transition(StateStage1Running))
		ctx, cancel := task.WithCancel(context.Background())
		defer cancel()

		task.Cancel()
		assert.True(t, task.Cancelled())
		assert.Equal(t, StateStage1Running, task.State(), "running tasks stop at a checkpoint")

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("derived context not cancelled")
		}
		require.NoError(t, task.MarkCancelled(&findings.Result{}))
		assert.Equal(t, StateCancelled, task.State())
	})

	t.Run("completed task ignores cancel", func(t *testing.T) {
		task := New(Options{})
		require.NoError(t, task.Transition(StateStage1Running))
		require.NoError(t, task.Transition(StateStage1Done))
		require.NoError(t, task.Complete(nil))
		task.Cancel()
		assert.False(t, task.Cancelled())
		assert.Equal(t, StateCompleted, task.State())
	})
}

func TestFailAndErrors(t *testing.T) {
	sink := &recordingSink{}
	task := New(Options{Sink: sink})
	task.RecordError(findings.ItemError{Stage: "stage2", File: "a.go", Kind: findings.ErrKindAnalysisFailed, Message: "unparseable"})

	require.NoError(t, task.Fail(errors.New("risk threshold out of range")))
	info := task.Snapshot()
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, "risk threshold out of range", info.Failure)
	assert.Equal(t, 1, info.ErrorCount)
	assert.Len(t, task.Errors(), 1)

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, notify.TypeFailed, events[0].Type)
	assert.Equal(t, "risk threshold out of range", events[0].Error)
}

func TestWeights(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{PhaseStage1: 0.5}.Validate())
	assert.Error(t, Weights{PhaseStage1: 1.5, PhaseStage2: -0.5}.Validate())

	assert.Equal(t, DefaultWeights(), WeightsFromConfig(config.ProgressWeights{}))
	w := WeightsFromConfig(config.ProgressWeights{Stage1: 0.5, Stage2: 0.5})
	require.NoError(t, w.Validate())
	assert.Equal(t, 0.5, w[PhaseStage1])
}

func TestManager(t *testing.T) {
	m := NewManager(DefaultWeights(), nil, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	old, err := m.Create("old")
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	running, err := m.Create("running")
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	fresh, err := m.Create("")
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.ID())

	_, err = m.Create("old")
	assert.Error(t, err)

	require.NoError(t, old.Fail(errors.New("bad config")))
	require.NoError(t, running.Transition(StateStage1Running))

	list := m.List("", 0)
	require.Len(t, list, 3)
	assert.Equal(t, fresh.ID(), list[0].ID())
	assert.Equal(t, "old", list[2].ID())
	assert.Len(t, m.List(StateFailed, 0), 1)
	assert.Len(t, m.List("", 2), 2)

	stats := m.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.ByState[StateFailed])

	require.NoError(t, m.Cancel("running"))
	assert.True(t, running.Cancelled())
	assert.Error(t, m.Cancel("old"))
	assert.Error(t, m.Cancel("missing"))

	clock = clock.Add(30 * time.Minute)
	assert.Equal(t, 1, m.CleanupOlderThan(time.Hour))
	_, ok := m.Get("old")
	assert.False(t, ok)

	assert.True(t, m.Delete("running"))
	assert.False(t, m.Delete("running"))
}

func TestManagerForgetsExpiredFinishedTasksOnCreate(t *testing.T) {
	m := NewManager(DefaultWeights(), nil, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	done, err := m.Create("done")
	require.NoError(t, err)
	require.NoError(t, done.Fail(errors.New("bad input")))
	_, err = m.Create("active")
	require.NoError(t, err)

	clock = clock.Add(FinishedTaskRetention + time.Minute)
	_, err = m.Create("next")
	require.NoError(t, err)

	_, ok := m.Get("done")
	assert.False(t, ok, "a finished task past retention is forgotten")
	_, ok = m.Get("active")
	assert.True(t, ok, "active tasks are kept regardless of age")
}

func TestManagerShutdown(t *testing.T) {
	m := NewManager(DefaultWeights(), nil, nil)
	running, err := m.Create("running")
	require.NoError(t, err)
	require.NoError(t, running.Transition(StateStage1Running))
	failed, err := m.Create("failed")
	require.NoError(t, err)
	require.NoError(t, failed.Fail(errors.New("bad input")))

	stats := m.Shutdown()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.ByState[StateFailed])

	assert.True(t, running.Cancelled())
	assert.Empty(t, m.List("", 0))
	assert.Equal(t, 0, m.Stats().Total)
}

type deadlineSink struct {
	mu        sync.Mutex
	deadlines []bool
}

func (d *deadlineSink) Publish(ctx context.Context, _ notify.ProgressEvent) error {
	_, ok := ctx.Deadline()
	d.mu.Lock()
	d.deadlines = append(d.deadlines, ok)
	d.mu.Unlock()
	return nil
}

func TestPublishHandsTheSinkABoundedContext(t *testing.T) {
	sink := &deadlineSink{}
	task := New(Options{Sink: sink})
	require.NoError(t, task.Transition(StateStage1Running))
	task.SetStageProgress(PhaseStage1, 0.5)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.deadlines)
	for _, ok := range sink.deadlines {
		assert.True(t, ok)
	}
}
