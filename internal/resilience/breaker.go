package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"docgate/internal/metrics"
)

// ErrCircuitOpen is returned without invoking the operation while a circuit
// is open, or while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit open")

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before admitting a probe.
	ResetTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     60 * time.Second,
	}
}

// CircuitState is a point-in-time snapshot of a breaker.
type CircuitState struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
}

type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
}

type BreakerOption func(*Breaker)

func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithClock replaces time.Now, used by tests to step past ResetTimeout.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.BreakerState.WithLabelValues(name).Set(StateClosed.gauge())
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op if the circuit admits it and records the outcome. Only
// retryable errors count as failures; a Fatal or security error is an answer
// from a working upstream.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		metrics.BreakerRejections.WithLabelValues(b.name).Inc()
		return fmt.Errorf("%s: %w", b.name, err)
	}

	opErr := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probeInFlight = false
	}
	switch {
	case opErr == nil:
		b.onSuccess()
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the upstream.
	case !isRetryable(opErr) && !errors.Is(opErr, ErrCircuitOpen):
		// A Fatal answer such as a 404 means the upstream is up.
		b.onSuccess()
	default:
		b.onFailure()
	}
	return opErr
}

// admit decides whether a call may proceed. It reports whether the call is
// the half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probeInFlight {
			return false, ErrCircuitOpen
		}
		b.probeInFlight = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	default:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(to.gauge())
	if from != to {
		b.logger.Info("circuit state changed", "breaker", b.name, "from", from, "to", to)
	}
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		Name:                 b.name,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		OpenedAt:             b.openedAt,
	}
}

// Registry keeps one breaker per named resource.
type Registry struct {
	cfg  BreakerConfig
	opts []BreakerOption

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg BreakerConfig, opts ...BreakerOption) *Registry {
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg, r.opts...)
	r.breakers[name] = b
	return b
}

// States returns a snapshot of every breaker ordered by name.
func (r *Registry) States() []CircuitState {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	states := make([]CircuitState, 0, len(breakers))
	for _, b := range breakers {
		states = append(states, b.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Guard composes a breaker around a retried operation: the breaker sees one
// outcome per retry loop, and an open circuit stops the loop.
func Guard[T any](ctx context.Context, b *Breaker, e *Executor, label string, op func(context.Context) (T, error)) Result[T] {
	var result Result[T]
	err := b.Execute(ctx, func(ctx context.Context) error {
		result = Retry(ctx, e, label, op)
		if result.Success {
			return nil
		}
		return result.Err
	})
	if err != nil && result.Attempts == 0 {
		result.Err = err
	}
	return result
}
