package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/krestgw/internal/config"
	"github.com/vyrodovalexey/krestgw/internal/observability"
	"github.com/vyrodovalexey/krestgw/internal/util"
)

// CircuitBreakerStateFunc is called on state changes with the breaker
// name and the new state (0=closed, 1=half-open, 2=open).
type CircuitBreakerStateFunc func(name string, state int)

// CircuitBreaker wraps gobreaker.CircuitBreaker for the upstream path.
type CircuitBreaker struct {
	cb            *gobreaker.CircuitBreaker
	logger        observability.Logger
	stateCallback CircuitBreakerStateFunc
}

// CircuitBreakerOption is a functional option for configuring the circuit breaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithCircuitBreakerLogger sets the logger for the circuit breaker.
func WithCircuitBreakerLogger(logger observability.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithCircuitBreakerStateCallback sets a callback for state changes.
func WithCircuitBreakerStateCallback(fn CircuitBreakerStateFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.stateCallback = fn
	}
}

// NewCircuitBreaker creates a circuit breaker that trips once at least
// threshold requests in the interval have a failure ratio of 50% or more.
func NewCircuitBreaker(
	name string,
	cfg config.CircuitBreakerConfig,
	opts ...CircuitBreakerOption,
) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(cb)
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval.Duration(),
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)

			if cb.stateCallback != nil {
				cb.stateCallback(name, int(to))
			}
		},
	}

	cb.cb = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.cb.Execute(fn)
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.cb.State()
}

// errUpstreamStatus marks a 5xx response so the breaker counts it as a
// failure without altering the response already written.
type errUpstreamStatus struct {
	status int
}

func (e *errUpstreamStatus) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// CircuitBreakerMiddleware returns a middleware that short-circuits
// requests while the breaker is open. Responses with a 5xx status count
// as failures.
func CircuitBreakerMiddleware(cb *CircuitBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := util.NewStatusCapturingResponseWriter(w)

			_, err := cb.Execute(func() (interface{}, error) {
				next.ServeHTTP(rw, r)

				if rw.StatusCode >= http.StatusInternalServerError {
					return nil, &errUpstreamStatus{status: rw.StatusCode}
				}
				return nil, nil
			})

			if err == nil {
				return
			}

			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				cb.logger.Warn("circuit breaker rejected request",
					observability.String("path", r.URL.Path),
					observability.String("state", cb.State().String()),
				)

				// The handler never ran, so the response is still ours.
				if !rw.HeaderWritten {
					w.Header().Set(HeaderContentType, ContentTypeJSON)
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = io.WriteString(w, ErrServiceUnavailable)
				}
				return
			}
			// 5xx failures already wrote their response through rw.
		})
	}
}

// CircuitBreakerFromConfig builds circuit breaker middleware from
// gateway config. State transitions are mirrored into the gauge via
// metrics when provided.
func CircuitBreakerFromConfig(
	cfg *config.CircuitBreakerConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) func(http.Handler) http.Handler {
	if cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	opts := []CircuitBreakerOption{WithCircuitBreakerLogger(logger)}
	if metrics != nil {
		opts = append(opts, WithCircuitBreakerStateCallback(func(name string, state int) {
			metrics.SetCircuitBreakerState(name, state)
		}))
	}

	cb := NewCircuitBreaker("upstream", *cfg, opts...)

	return CircuitBreakerMiddleware(cb)
}
