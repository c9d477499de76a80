package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/logflow/waitlens/pkg/export"
)

// ErrUnavailable is returned while a breaker rejects calls.
var ErrUnavailable = errors.New("store: backend unavailable")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Rejecting calls
	CircuitHalfOpen                     // Testing if the backend recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures the breaker in front of a remote backend.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"` // consecutive failures before opening
	Cooldown    time.Duration `yaml:"cooldown"`
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 3,
		Cooldown:    30 * time.Second,
	}
}

// Breaker stops calling a backend after repeated failures, so an unreachable
// Redis or S3 endpoint fails fast instead of timing out on every call.
type Breaker struct {
	backend Backend
	cfg     BreakerConfig
	now     func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	// OnTrip is called when the breaker opens.
	OnTrip func(backend string, err error)
}

// NewBreaker wraps backend.
func NewBreaker(backend Backend, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{backend: backend, cfg: cfg, now: time.Now}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = CircuitHalfOpen
	}
	return true
}

// record updates the circuit with a call outcome. A missing run is an
// answer, not a failure.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || errors.Is(err, ErrNotFound) {
		b.state = CircuitClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = CircuitOpen
		b.openedAt = b.now()
		if b.OnTrip != nil {
			b.OnTrip(b.backend.Name(), err)
		}
	}
}

func (b *Breaker) call(op, id string, fn func() error) error {
	if !b.allow() {
		return storeError(ErrUnavailable, b.backend.Name(), op, id)
	}
	err := fn()
	b.record(err)
	return err
}

// Save implements Backend.
func (b *Breaker) Save(ctx context.Context, rep *export.RunReport) error {
	return b.call("save", rep.RunID, func() error {
		return b.backend.Save(ctx, rep)
	})
}

// Load implements Backend.
func (b *Breaker) Load(ctx context.Context, id string) (*export.RunReport, error) {
	var rep *export.RunReport
	err := b.call("load", id, func() error {
		var err error
		rep, err = b.backend.Load(ctx, id)
		return err
	})
	return rep, err
}

// List implements Backend.
func (b *Breaker) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := b.call("list", "", func() error {
		var err error
		entries, err = b.backend.List(ctx)
		return err
	})
	return entries, err
}

// Delete implements Backend.
func (b *Breaker) Delete(ctx context.Context, id string) error {
	return b.call("delete", id, func() error {
		return b.backend.Delete(ctx, id)
	})
}

// Name returns the wrapped backend's name.
func (b *Breaker) Name() string {
	return b.backend.Name()
}
