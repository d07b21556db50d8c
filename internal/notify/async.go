package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	defaultQueueSize       = 256
	defaultDeliveryTimeout = 10 * time.Second
	defaultDrainTimeout    = 5 * time.Second
)

// ErrSinkClosed is returned by Publish after Close.
var ErrSinkClosed = errors.New("progress sink is closed")

// AsyncOptions tunes an AsyncSink. Zero values take defaults.
type AsyncOptions struct {
	// QueueSize bounds the events waiting for delivery.
	QueueSize int
	// DeliveryTimeout bounds a single delivery to the wrapped sink.
	DeliveryTimeout time.Duration
	// DrainTimeout bounds how long Close waits for queued events.
	DrainTimeout time.Duration
}

// AsyncSink delivers events to the wrapped sink from a single goroutine, in order, so Publish
// never waits on delivery. On a full queue a progress event replaces the newest queued progress
// event of its task, or is dropped when there is none; terminal events are always queued.
type AsyncSink struct {
	next    Sink
	logger  hclog.Logger
	limit   int
	timeout time.Duration
	drain   time.Duration

	base  context.Context
	abort context.CancelFunc

	mu      sync.Mutex
	queue   []ProgressEvent
	closed  bool
	dropped int

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewAsyncSink starts the delivery goroutine for next. Close stops it.
func NewAsyncSink(next Sink, opts AsyncOptions, logger hclog.Logger) *AsyncSink {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	base, abort := context.WithCancel(context.Background())
	s := &AsyncSink{
		next:    next,
		logger:  logger,
		limit:   opts.QueueSize,
		timeout: opts.DeliveryTimeout,
		drain:   opts.DrainTimeout,
		base:    base,
		abort:   abort,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// Publish queues ev and returns at once.
func (s *AsyncSink) Publish(_ context.Context, ev ProgressEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	if len(s.queue) < s.limit || ev.Terminal() {
		s.queue = append(s.queue, ev)
	} else if i := s.newestProgressLocked(ev.TaskID); i >= 0 {
		s.queue[i] = ev
	} else {
		s.dropped++
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// newestProgressLocked returns the position of the newest queued progress event of the task, -1
// when there is none or the task already has a terminal event queued.
func (s *AsyncSink) newestProgressLocked(taskID string) int {
	for i := len(s.queue) - 1; i >= 0; i-- {
		if s.queue[i].TaskID != taskID {
			continue
		}
		if s.queue[i].Terminal() {
			return -1
		}
		return i
	}
	return -1
}

// Dropped is the number of progress events discarded on overflow.
func (s *AsyncSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			s.deliver(ev)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

func (s *AsyncSink) deliver(ev ProgressEvent) {
	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()
	if err := s.next.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to deliver progress event", "task", ev.TaskID, "type", ev.Type, "percent", ev.Percent, "error", err)
	}
}

// Close stops accepting events and waits for the queue to drain. When draining takes longer than
// the drain timeout, pending deliveries are cancelled and an error is returned.
func (s *AsyncSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}

		timer := time.NewTimer(s.drain)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.abort()
			s.mu.Lock()
			pending := len(s.queue)
			s.mu.Unlock()
			err = errors.New("progress sink did not drain in time")
			s.logger.Warn("abandoning undelivered progress events", "pending", pending)
		}
		s.abort()
	})
	return err
}
