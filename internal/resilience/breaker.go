package resilience

import (
	"sync"
	"time"
)

// State of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a rolling-window circuit breaker.
type BreakerConfig struct {
	// Window is the number of most recent outcomes considered.
	Window int
	// Threshold is the number of failures within Window that opens the circuit. Zero disables the breaker.
	Threshold int
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnStateChange is called outside the breaker lock.
	OnStateChange func(from, to State)
}

// DefaultBreakerConfig opens after 5 failures in the last 20 calls and re-probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Window: 20, Threshold: 5, Cooldown: 30 * time.Second}
}

// Breaker is a circuit breaker over a rolling window of outcomes.
// In the half-open state exactly one probe is admitted; its outcome closes or re-opens the circuit.
type Breaker struct {
	mu sync.Mutex

	cfg BreakerConfig

	outcomes []bool // ring buffer, true = failure
	next     int
	filled   int
	failures int

	state           State
	openedAt        time.Time
	probeInFlight   bool
	lastStateChange time.Time
	trips           int
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.Threshold
	}
	return &Breaker{
		cfg:             cfg,
		outcomes:        make([]bool, max(cfg.Window, 1)),
		state:           StateClosed,
		lastStateChange: cfg.Clock(),
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	if b.cfg.Threshold <= 0 {
		return true
	}

	b.mu.Lock()
	var from State
	changed := false
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.cfg.Clock().Sub(b.openedAt) >= b.cfg.Cooldown {
			from, changed = b.setState(StateHalfOpen)
			b.probeInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			allowed = true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateHalfOpen)
	}
	return allowed
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.record(false)
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.record(true)
}

// Abandon releases an admitted call that ended without an outcome, e.g. on caller cancellation.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

func (b *Breaker) record(failed bool) {
	if b.cfg.Threshold <= 0 {
		return
	}

	b.mu.Lock()
	var from, to State
	changed := false

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if failed {
			from, changed = b.trip()
			to = StateOpen
		} else {
			b.resetWindow()
			from, changed = b.setState(StateClosed)
			to = StateClosed
		}
	case StateClosed:
		b.push(failed)
		if b.failures >= b.cfg.Threshold {
			from, changed = b.trip()
			to = StateOpen
		}
	case StateOpen:
		// late results of calls admitted before the circuit opened
		if failed {
			b.openedAt = b.cfg.Clock()
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

func (b *Breaker) push(failed bool) {
	if b.filled == len(b.outcomes) {
		if b.outcomes[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.outcomes[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.outcomes)
}

func (b *Breaker) resetWindow() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next, b.filled, b.failures = 0, 0, 0
}

func (b *Breaker) trip() (State, bool) {
	b.openedAt = b.cfg.Clock()
	b.trips++
	b.resetWindow()
	return b.setState(StateOpen)
}

func (b *Breaker) setState(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.lastStateChange = b.cfg.Clock()
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Observed        int       `json:"observed"`
	Trips           int       `json:"trips"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		Failures:        b.failures,
		Observed:        b.filled,
		Trips:           b.trips,
		LastStateChange: b.lastStateChange,
	}
}
