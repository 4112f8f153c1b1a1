package dbport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig controls when the breaker trips. A tripped breaker makes
// Guard reject calls immediately instead of sending another DDL/EXPLAIN
// statement at an already-struggling database.
type BreakerConfig struct {
	ErrorThreshold   float64       `mapstructure:"error_threshold" yaml:"error_threshold"`
	RequestThreshold int64         `mapstructure:"request_threshold" yaml:"request_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
	HalfOpenRequests int64         `mapstructure:"half_open_requests" yaml:"half_open_requests"`
}

// DefaultBreakerConfig returns conservative defaults: trip after at least 5
// requests with a >50% error rate, probe again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold:   0.5,
		RequestThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Breaker protects a single target database from the advisor's own
// exploration traffic: a burst of failing CREATE INDEX / EXPLAIN calls (e.g.
// during a connectivity blip) stops issuing new statements until the
// database has had time to recover.
type Breaker struct {
	logger *zap.Logger
	cfg    BreakerConfig

	mu               sync.Mutex
	state            State
	errorCount       int64
	successCount     int64
	consecutiveFails int64
	lastStateChange  time.Time
	halfOpenInFlight int64
}

// NewBreaker constructs a closed breaker.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		logger:          logger,
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a new call may proceed, transitioning open->half-open
// once the timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastStateChange) > b.cfg.OpenTimeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenRequests {
			b.halfOpenInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// Guard runs fn only if the breaker is closed (or probing in half-open), and
// records the outcome. ErrBreakerOpen is returned without calling fn at all.
func (b *Breaker) Guard(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return err
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount++
	b.consecutiveFails++

	if b.state == StateHalfOpen {
		b.transitionTo(StateOpen)
		return
	}

	total := b.errorCount + b.successCount
	if total < b.cfg.RequestThreshold {
		return
	}
	if float64(b.errorCount)/float64(total) > b.cfg.ErrorThreshold {
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.consecutiveFails = 0

	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(s State) {
	prev := b.state
	b.state = s
	b.lastStateChange = time.Now()
	b.halfOpenInFlight = 0
	if s == StateClosed {
		b.errorCount = 0
		b.successCount = 0
	}
	b.logger.Info("circuit breaker state transition",
		zap.Stringer("from", prev), zap.Stringer("to", s))
}

// ErrBreakerOpen is returned by Guard when the breaker has tripped.
var ErrBreakerOpen = fmt.Errorf("dbport: circuit breaker open")
