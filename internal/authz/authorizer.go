// Package authz provides role-based authorization for proxied requests.
// Decisions combine a built-in role policy with optional CEL rules
// evaluated against the credential and request attributes.
package authz

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/observability"
	"github.com/vyrodovalexey/krestgw/internal/util"
)

// ErrForbidden indicates the credential is not allowed to perform the
// requested operation. It wraps the gateway sentinel so util.StatusCode
// maps it to 403.
var ErrForbidden = fmt.Errorf("operation not permitted: %w", util.ErrForbidden)

// Decision represents an authorization decision.
type Decision struct {
	Allowed bool
	Reason  string
	Policy  string
}

// Authorizer decides whether a credential may perform a request.
type Authorizer interface {
	Authorize(ctx context.Context, cred *basic.Credential, method, path string) (*Decision, error)
}

// Request path prefixes with role-specific write access.
const (
	topicsPrefix    = "/topics"
	consumersPrefix = "/consumers"
)

// authorizer implements Authorizer.
type authorizer struct {
	enforceRoles bool
	rules        *RuleSet
	logger       observability.Logger
	metrics      *Metrics
}

// Option is a functional option for the authorizer.
type Option func(*authorizer)

// WithEnforceRoles toggles the built-in role policy. When disabled any
// authenticated credential may perform any operation, matching
// deployments that only need authentication.
func WithEnforceRoles(enforce bool) Option {
	return func(a *authorizer) {
		a.enforceRoles = enforce
	}
}

// WithRules sets the CEL rule set evaluated after the role policy.
func WithRules(rules *RuleSet) Option {
	return func(a *authorizer) {
		a.rules = rules
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *authorizer) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(a *authorizer) {
		a.metrics = metrics
	}
}

// NewAuthorizer creates a new authorizer.
func NewAuthorizer(opts ...Option) Authorizer {
	a := &authorizer{
		enforceRoles: true,
		logger:       observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = NewMetrics("krestgw")
	}

	return a
}

// Authorize decides whether the credential may perform the request.
func (a *authorizer) Authorize(
	ctx context.Context,
	cred *basic.Credential,
	method, path string,
) (*Decision, error) {
	start := time.Now()

	decision := a.decide(ctx, cred, method, path)

	status := "denied"
	if decision.Allowed {
		status = "allowed"
	}
	a.metrics.RecordDecision(decision.Policy, status, time.Since(start))

	if !decision.Allowed {
		a.logger.Debug("authorization denied",
			observability.String("key", cred.Key),
			observability.String("role", cred.Role.String()),
			observability.String("method", method),
			observability.String("path", path),
			observability.String("reason", decision.Reason),
		)
	}

	return decision, nil
}

func (a *authorizer) decide(
	ctx context.Context,
	cred *basic.Credential,
	method, path string,
) *Decision {
	if a.enforceRoles {
		if d := roleDecision(cred.Role, method, path); !d.Allowed {
			return d
		}
	}

	if a.rules != nil {
		if d := a.rules.Evaluate(ctx, cred, method, path); !d.Allowed {
			return d
		}
	}

	return &Decision{Allowed: true, Reason: "permitted", Policy: "role"}
}

// roleDecision applies the built-in role policy.
func roleDecision(role basic.Role, method, path string) *Decision {
	if isSafeMethod(method) {
		return &Decision{Allowed: true, Reason: "safe method", Policy: "role"}
	}

	switch role {
	case basic.RoleAdmin:
		return &Decision{Allowed: true, Reason: "admin role", Policy: "role"}
	case basic.RoleProducer:
		if hasPathPrefix(path, topicsPrefix) {
			return &Decision{Allowed: true, Reason: "producer write", Policy: "role"}
		}
		return &Decision{
			Allowed: false,
			Reason:  "producer role may only write under " + topicsPrefix,
			Policy:  "role",
		}
	case basic.RoleConsumer:
		if hasPathPrefix(path, consumersPrefix) {
			return &Decision{Allowed: true, Reason: "consumer write", Policy: "role"}
		}
		return &Decision{
			Allowed: false,
			Reason:  "consumer role may only write under " + consumersPrefix,
			Policy:  "role",
		}
	case basic.RoleReadOnly:
		return &Decision{
			Allowed: false,
			Reason:  "readonly role may not use " + method,
			Policy:  "role",
		}
	default:
		return &Decision{Allowed: false, Reason: "unknown role", Policy: "role"}
	}
}

// isSafeMethod reports whether the method never modifies upstream state.
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// hasPathPrefix matches /prefix and /prefix/... but not /prefixfoo.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
