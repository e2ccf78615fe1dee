package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/backend"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Probing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Settings configures every breaker in a Registry.
type Settings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

type breaker = gobreaker.CircuitBreaker[*backend.Response]

type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*breaker
	settings Settings
	logger   *slog.Logger
}

func NewRegistry(settings Settings, logger *slog.Logger) *Registry {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		breakers: make(map[string]*breaker),
		settings: settings,
		logger:   logger,
	}
}

// GetBreaker returns the breaker for key, creating it on first use.
func (r *Registry) GetBreaker(key string) *breaker {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[key]; exists {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker[*backend.Response](gobreaker.Settings{
		Name:         key,
		MaxRequests:  r.settings.HalfOpenRequests,
		Timeout:      r.settings.OpenTimeout,
		ReadyToTrip:  r.readyToTrip,
		IsSuccessful: isSuccessful,
		IsExcluded:   isExcluded,
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("Circuit breaker state changed",
				slog.String("endpoint", name),
				slog.String("from", fromGobreaker(from).String()),
				slog.String("to", fromGobreaker(to).String()))
		},
	})
	r.breakers[key] = cb
	return cb
}

// State returns the state of key's breaker; unknown keys are closed.
func (r *Registry) State(key string) State {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if !exists {
		return StateClosed
	}
	return fromGobreaker(cb.State())
}

// Reset forgets every breaker, closing them all.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*breaker)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = fromGobreaker(cb.State())
	}
	return stats
}

func (r *Registry) readyToTrip(counts gobreaker.Counts) bool {
	return counts.ConsecutiveFailures >= r.settings.ConsecutiveFailures
}

// A backend that answered, whatever the status, is reachable.
func isSuccessful(err error) bool {
	switch apperror.CodeOf(err) {
	case apperror.CodeBackendUnreachable, apperror.CodeBackendTimeout:
		return false
	default:
		return true
	}
}

// Calls the client gave up on say nothing about the backend.
func isExcluded(err error) bool {
	return errors.Is(err, context.Canceled)
}
