// Package auth provides the authentication middleware that guards the
// gateway's proxied routes. It verifies HTTP Basic credentials against
// a credential store and attaches the authenticated credential to the
// request context for downstream authorization.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/observability"
	"github.com/vyrodovalexey/krestgw/internal/util"
)

// Header names used by the middleware.
const (
	HeaderAuthorization   = "Authorization"
	HeaderWWWAuthenticate = "WWW-Authenticate"
)

// Middleware authenticates HTTP requests with Basic credentials.
type Middleware struct {
	validator  *basic.Validator
	healthPath string
	logger     observability.Logger
	metrics    *Metrics
}

// MiddlewareOption is a functional option for the middleware.
type MiddlewareOption func(*Middleware)

// WithHealthPath sets the path that bypasses authentication. Health
// probes must not require credentials.
func WithHealthPath(path string) MiddlewareOption {
	return func(m *Middleware) {
		m.healthPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) MiddlewareOption {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(validator *basic.Validator, opts ...MiddlewareOption) (*Middleware, error) {
	if validator == nil {
		return nil, errors.New("validator is required")
	}

	m := &Middleware{
		validator:  validator,
		healthPath: "/health",
		logger:     observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = NewMetrics("krestgw")
	}

	return m, nil
}

// Handler wraps next with authentication. Requests to the health path
// are answered directly without touching the credential store or the
// upstream.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == m.healthPath {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}

		start := time.Now()

		cred, err := m.validator.ValidateRequest(r)
		if err != nil {
			m.metrics.RecordFailure(failureReason(err))
			m.handleAuthError(w, r, err)
			return
		}

		m.metrics.RecordSuccess(time.Since(start))

		ctx := basic.ContextWithCredential(r.Context(), cred)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleAuthError writes the 401 response. Every failure carries the
// WWW-Authenticate challenge so clients can retry with credentials.
func (m *Middleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.Warn("authentication failed",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.Error(err),
	)

	w.Header().Set(HeaderWWWAuthenticate,
		fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", m.validator.Realm()))

	var message string
	switch {
	case errors.Is(err, basic.ErrMissingCredentials):
		message = "authentication required"
	case errors.Is(err, basic.ErrInvalidHeader):
		message = "malformed authorization header"
	default:
		message = "invalid credentials"
	}

	util.WriteJSONError(w, http.StatusUnauthorized, message)
}

// failureReason maps an authentication error to a metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, basic.ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, basic.ErrInvalidHeader):
		return "invalid_header"
	case errors.Is(err, basic.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "store_error"
	}
}
