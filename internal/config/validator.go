package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateListener(&config.Spec.Listener)
	v.validateAdmin(&config.Spec.Admin)
	v.validateUpstream(&config.Spec.Upstream)
	v.validateAuth(&config.Spec.Auth)
	v.validateAuthz(&config.Spec.Authz)

	if config.Spec.RateLimit != nil {
		v.validateRateLimit(config.Spec.RateLimit, "spec.rateLimit")
	}

	if config.Spec.CircuitBreaker != nil {
		v.validateCircuitBreaker(config.Spec.CircuitBreaker, "spec.circuitBreaker")
	}

	if config.Spec.Observability != nil {
		v.validateObservability(config.Spec.Observability, "spec.observability")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateRoot validates root-level fields.
func (v *Validator) validateRoot(config *GatewayConfig) {
	if config.APIVersion == "" {
		v.addError("apiVersion", "apiVersion is required")
	} else if !strings.HasPrefix(config.APIVersion, "gateway.krestgw.io/") {
		v.addError("apiVersion", "apiVersion must start with 'gateway.krestgw.io/'")
	}

	if config.Kind == "" {
		v.addError("kind", "kind is required")
	} else if config.Kind != "Gateway" {
		v.addError("kind", "kind must be 'Gateway'")
	}

	if config.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

// validateListener validates the listener configuration.
func (v *Validator) validateListener(l *ListenerConfig) {
	if l.Address == "" {
		v.addError("spec.listener.address", "address is required")
		return
	}
	if _, _, err := net.SplitHostPort(l.Address); err != nil {
		v.addError("spec.listener.address",
			fmt.Sprintf("invalid address %q: %v", l.Address, err))
	}
}

// validateAdmin validates the admin API configuration.
func (v *Validator) validateAdmin(a *AdminConfig) {
	if !a.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(a.Address); err != nil {
		v.addError("spec.admin.address",
			fmt.Sprintf("invalid address %q: %v", a.Address, err))
	}
}

// validateUpstream validates the upstream configuration.
func (v *Validator) validateUpstream(u *UpstreamConfig) {
	if u.URL == "" {
		v.addError("spec.upstream.url", "url is required")
		return
	}

	parsed, err := url.Parse(u.URL)
	if err != nil {
		v.addError("spec.upstream.url", fmt.Sprintf("invalid url: %v", err))
		return
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.addError("spec.upstream.url", "url scheme must be http or https")
	}
	if parsed.Host == "" {
		v.addError("spec.upstream.url", "url must include a host")
	}

	if u.ConnectTimeout < 0 {
		v.addError("spec.upstream.connectTimeout", "must not be negative")
	}
	if u.ResponseHeaderTimeout < 0 {
		v.addError("spec.upstream.responseHeaderTimeout", "must not be negative")
	}
}

// validateAuth validates the auth configuration.
func (v *Validator) validateAuth(a *AuthConfig) {
	if a.HealthPath != "" && !strings.HasPrefix(a.HealthPath, "/") {
		v.addError("spec.auth.healthPath", "must start with '/'")
	}

	switch a.Store.Type {
	case StoreTypeMemory:
	case StoreTypeFile:
		if a.Store.File.Path == "" {
			v.addError("spec.auth.store.file.path",
				"path is required for the file store")
		}
	case StoreTypeRedis:
		if a.Store.Redis == nil || a.Store.Redis.Address == "" {
			v.addError("spec.auth.store.redis.address",
				"address is required for the redis store")
		}
	case StoreTypeVault:
		if a.Store.Vault == nil {
			v.addError("spec.auth.store.vault", "vault settings are required")
			return
		}
		if a.Store.Vault.Address == "" {
			v.addError("spec.auth.store.vault.address",
				"address is required for the vault store")
		}
		if a.Store.Vault.SecretPath == "" {
			v.addError("spec.auth.store.vault.secretPath",
				"secretPath is required for the vault store")
		}
	default:
		v.addError("spec.auth.store.type",
			fmt.Sprintf("unknown store type %q (must be one of memory, file, redis, vault)",
				a.Store.Type))
	}

	if a.WatchCredentials && a.Store.Type != StoreTypeFile {
		v.addError("spec.auth.watchCredentials",
			"credential watching requires the file store")
	}
}

// validateAuthz validates the authorization configuration.
func (v *Validator) validateAuthz(a *AuthzConfig) {
	names := make(map[string]bool)
	for i, p := range a.Policies {
		path := fmt.Sprintf("spec.authz.policies[%d]", i)
		switch {
		case p.Name == "":
			v.addError(path+".name", "policy name is required")
		case names[p.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate policy name: %s", p.Name))
		default:
			names[p.Name] = true
		}
		if p.Expression == "" {
			v.addError(path+".expression", "policy expression is required")
		}
	}
}

// validateRateLimit validates rate limiting configuration.
func (v *Validator) validateRateLimit(rl *RateLimitConfig, path string) {
	if !rl.Enabled {
		return
	}
	if rl.RequestsPerSecond <= 0 {
		v.addError(path+".requestsPerSecond", "must be greater than zero")
	}
	if rl.Burst < 0 {
		v.addError(path+".burst", "must not be negative")
	}
	for i, cidr := range rl.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			v.addError(fmt.Sprintf("%s.trustedProxies[%d]", path, i),
				fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
	}
}

// validateCircuitBreaker validates circuit breaker configuration.
func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig, path string) {
	if !cb.Enabled {
		return
	}
	if cb.Timeout < 0 {
		v.addError(path+".timeout", "must not be negative")
	}
	if cb.Interval < 0 {
		v.addError(path+".interval", "must not be negative")
	}
}

// validateObservability validates observability configuration.
func (v *Validator) validateObservability(o *ObservabilityConfig, path string) {
	switch o.Logging.Level {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		v.addError(path+".logging.level",
			fmt.Sprintf("invalid log level %q", o.Logging.Level))
	}

	switch o.Logging.Format {
	case "", "json", "console":
	default:
		v.addError(path+".logging.format",
			fmt.Sprintf("invalid log format %q (must be json or console)", o.Logging.Format))
	}

	if o.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(o.Metrics.Address); err != nil {
			v.addError(path+".metrics.address",
				fmt.Sprintf("invalid address %q: %v", o.Metrics.Address, err))
		}
	}

	if o.Tracing.Enabled {
		if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
			v.addError(path+".tracing.samplingRate", "must be between 0 and 1")
		}
	}
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
