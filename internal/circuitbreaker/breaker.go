// Package circuitbreaker shields the engine from a persistently failing
// model provider. One breaker guards each provider; while it is open, calls
// fail fast instead of burning the request's time budget on a dead upstream.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contentive/orchestrator/internal/metrics"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without invoking the call while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// ProbeSuccesses is the consecutive half-open successes needed to close.
	ProbeSuccesses int `mapstructure:"probe_successes"`
}

// DefaultConfig mirrors what works for slow, expensive model calls: trip
// fast, probe cautiously.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		ProbeSuccesses:   2,
	}
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	probeWins  int
	probeInUse bool
	openedAt   time.Time
}

// New constructs a breaker named after the resource it guards.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = DefaultConfig().ProbeSuccesses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{name: name, cfg: cfg, logger: logger, now: time.Now}
}

// Execute runs fn under the breaker. While open, it returns ErrOpen without
// calling fn. In half-open state a single probe call is admitted at a time.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.settle(err == nil)
	return err
}

// State reports the current state, applying the cooldown transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.probeInUse {
			return ErrOpen
		}
		b.probeInUse = true
	}
	return nil
}

func (b *Breaker) settle(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.probeInUse = false
		if !success {
			b.transition(Open)
			return
		}
		b.probeWins++
		if b.probeWins >= b.cfg.ProbeSuccesses {
			b.transition(Closed)
		}
	}
}

// refresh moves an expired open breaker to half-open. Caller holds the lock.
func (b *Breaker) refresh() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(HalfOpen)
	}
}

func (b *Breaker) transition(next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.failures = 0
	b.probeWins = 0
	b.probeInUse = false

	if next == Open {
		b.openedAt = b.now()
		metrics.CircuitBreakerTrips.WithLabelValues(b.name).Inc()
	}

	b.logger.Warn("circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}
