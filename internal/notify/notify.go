// Package notify delivers task progress events to external consumers.
// Delivery is at least once; consumers key on (task_id, percent).
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Event types.
const (
	TypeProgress  = "progress_update"
	TypeCompleted = "task_completed"
	TypeFailed    = "task_failed"
	TypeCancelled = "task_cancelled"
)

// ProgressEvent is one progress notification.
type ProgressEvent struct {
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id"`
	Stage   string    `json:"stage"`
	State   string    `json:"state"`
	Percent float64   `json:"percent"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Terminal reports whether the event closes the task.
func (e ProgressEvent) Terminal() bool {
	return e.Type == TypeCompleted || e.Type == TypeFailed || e.Type == TypeCancelled
}

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, ev ProgressEvent) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, ProgressEvent) error { return nil }

// LogSink writes events to a logger.
type LogSink struct {
	logger hclog.Logger
}

// NewLogSink logs progress at debug level and terminal events at info.
func NewLogSink(logger hclog.Logger) *LogSink {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LogSink{logger: logger.Named("progress")}
}

func (s *LogSink) Publish(_ context.Context, ev ProgressEvent) error {
	args := []interface{}{"task", ev.TaskID, "stage", ev.Stage, "state", ev.State, "percent", ev.Percent}
	if ev.Error != "" {
		args = append(args, "error", ev.Error)
	}
	msg := ev.Message
	if msg == "" {
		msg = ev.Type
	}
	if ev.Terminal() {
		s.logger.Info(msg, args...)
	} else {
		s.logger.Debug(msg, args...)
	}
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev ProgressEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DedupeSink forwards an event only when its percent moves past the last forwarded one for the
// same task. Terminal events always pass once.
type DedupeSink struct {
	next Sink

	mu   sync.Mutex
	last map[string]float64
	done map[string]bool
}

// NewDedupeSink wraps next.
func NewDedupeSink(next Sink) *DedupeSink {
	return &DedupeSink{next: next, last: map[string]float64{}, done: map[string]bool{}}
}

func (d *DedupeSink) Publish(ctx context.Context, ev ProgressEvent) error {
	d.mu.Lock()
	if d.done[ev.TaskID] {
		d.mu.Unlock()
		return nil
	}
	last, seen := d.last[ev.TaskID]
	switch {
	case ev.Terminal():
		d.done[ev.TaskID] = true
	case seen && ev.Percent <= last:
		d.mu.Unlock()
		return nil
	}
	d.last[ev.TaskID] = max(last, ev.Percent)
	d.mu.Unlock()

	return d.next.Publish(ctx, ev)
}

// Forget drops the state kept for a task.
func (d *DedupeSink) Forget(taskID string) {
	d.mu.Lock()
	delete(d.last, taskID)
	delete(d.done, taskID)
	d.mu.Unlock()
}
