// Package circuitbreaker guards calls to an unreliable dependency such as the language-model provider.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a Breaker.
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

// Config controls trip and recovery behaviour.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// OnStateChange, when set, is called with the lock released.
	OnStateChange func(from, to State)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

// New returns a closed breaker. Zero config fields get 5 failures, 2 successes, 60s.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open. Context cancellation is not counted as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	switch b.state {
	case StateOpen:
		remaining := b.cfg.Timeout - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, remaining.Round(time.Second))
		}
		transition = b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: probe in flight", ErrCircuitOpen)
		}
		b.probing = true
	case StateClosed:
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	b.probing = false
	if err != nil {
		b.successes = 0
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			transition = b.setState(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			transition = b.setState(StateClosed)
		}
	}
}

// setState must be called with mu held; it returns the callback to run after unlocking.
func (b *Breaker) setState(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	if b.cfg.OnStateChange == nil {
		return nil
	}
	return func() { b.cfg.OnStateChange(from, to) }
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
