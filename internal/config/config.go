// Package config provides configuration management for the gateway.
// Configuration is loaded from YAML files with environment variable
// substitution and can be watched for changes at runtime.
package config

import "time"

// Default configuration values.
const (
	DefaultAPIVersion = "gateway.krestgw.io/v1"
	DefaultKind       = "Gateway"

	DefaultListenAddress = ":8080"
	DefaultAdminAddress  = "127.0.0.1:9081"

	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultConnectTimeout        = 5 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultMaxIdleConns          = 100
	DefaultMaxIdleConnsPerHost   = 10

	DefaultRealm      = "kafka-rest"
	DefaultHealthPath = "/health"

	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata contains identifying information about the gateway.
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// GatewaySpec contains the gateway specification.
type GatewaySpec struct {
	Listener       ListenerConfig        `yaml:"listener" json:"listener"`
	Admin          AdminConfig           `yaml:"admin,omitempty" json:"admin,omitempty"`
	Upstream       UpstreamConfig        `yaml:"upstream" json:"upstream"`
	Auth           AuthConfig            `yaml:"auth" json:"auth"`
	Authz          AuthzConfig           `yaml:"authz,omitempty" json:"authz,omitempty"`
	RateLimit      *RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Observability  *ObservabilityConfig  `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ListenerConfig configures the main HTTP listener.
type ListenerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// AdminConfig configures the local administrative API.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// UpstreamConfig configures the Kafka REST Proxy upstream.
type UpstreamConfig struct {
	URL                   string   `yaml:"url" json:"url"`
	ConnectTimeout        Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`
	ResponseHeaderTimeout Duration `yaml:"responseHeaderTimeout,omitempty" json:"responseHeaderTimeout,omitempty"`
	IdleConnTimeout       Duration `yaml:"idleConnTimeout,omitempty" json:"idleConnTimeout,omitempty"`
	MaxIdleConns          int      `yaml:"maxIdleConns,omitempty" json:"maxIdleConns,omitempty"`
	MaxIdleConnsPerHost   int      `yaml:"maxIdleConnsPerHost,omitempty" json:"maxIdleConnsPerHost,omitempty"`
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	Realm            string      `yaml:"realm,omitempty" json:"realm,omitempty"`
	HealthPath       string      `yaml:"healthPath,omitempty" json:"healthPath,omitempty"`
	WatchCredentials bool        `yaml:"watchCredentials,omitempty" json:"watchCredentials,omitempty"`
	Store            StoreConfig `yaml:"store" json:"store"`
}

// StoreConfig configures the credential store backend.
type StoreConfig struct {
	Type  string            `yaml:"type" json:"type"`
	File  FileStoreConfig   `yaml:"file,omitempty" json:"file,omitempty"`
	Redis *RedisStoreConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Vault *VaultStoreConfig `yaml:"vault,omitempty" json:"vault,omitempty"`
}

// Credential store backend types.
const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeRedis  = "redis"
	StoreTypeVault  = "vault"
)

// FileStoreConfig configures the file-backed credential store.
type FileStoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RedisStoreConfig configures the Redis-backed credential store.
type RedisStoreConfig struct {
	Address     string   `yaml:"address" json:"address"`
	Password    string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB          int      `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix   string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	DialTimeout Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
}

// VaultStoreConfig configures the Vault-backed credential store.
type VaultStoreConfig struct {
	Address    string   `yaml:"address" json:"address"`
	Token      string   `yaml:"token,omitempty" json:"token,omitempty"`
	MountPath  string   `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
	SecretPath string   `yaml:"secretPath" json:"secretPath"`
	Timeout    Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// AuthzConfig configures role-based authorization.
type AuthzConfig struct {
	// EnforceRoles enables role checks for proxied requests. When nil
	// role enforcement defaults to enabled.
	EnforceRoles *bool          `yaml:"enforceRoles,omitempty" json:"enforceRoles,omitempty"`
	Policies     []PolicyConfig `yaml:"policies,omitempty" json:"policies,omitempty"`
}

// Enforced reports whether role enforcement is active.
func (a *AuthzConfig) Enforced() bool {
	return a.EnforceRoles == nil || *a.EnforceRoles
}

// PolicyConfig is a named CEL authorization policy. The expression is
// evaluated against the variables key, role, method and path and must
// evaluate to a boolean.
type PolicyConfig struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64  `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int      `yaml:"burst,omitempty" json:"burst,omitempty"`
	TrustedProxies    []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// CircuitBreakerConfig configures the upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	FailureThreshold uint32   `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`
	Interval         Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout          Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRequests      uint32   `yaml:"maxRequests,omitempty" json:"maxRequests,omitempty"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// DefaultConfig returns a configuration with default values applied.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       DefaultKind,
		Metadata: Metadata{
			Name: "krestgw",
		},
		Spec: GatewaySpec{
			Listener: ListenerConfig{
				Address: DefaultListenAddress,
			},
			Auth: AuthConfig{
				Store: StoreConfig{Type: StoreTypeMemory},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in zero-valued fields with defaults.
func (c *GatewayConfig) SetDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Kind == "" {
		c.Kind = DefaultKind
	}

	l := &c.Spec.Listener
	if l.Address == "" {
		l.Address = DefaultListenAddress
	}
	if l.ReadTimeout == 0 {
		l.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if l.WriteTimeout == 0 {
		l.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if l.IdleTimeout == 0 {
		l.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if l.ShutdownTimeout == 0 {
		l.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	if c.Spec.Admin.Enabled && c.Spec.Admin.Address == "" {
		c.Spec.Admin.Address = DefaultAdminAddress
	}

	u := &c.Spec.Upstream
	if u.ConnectTimeout == 0 {
		u.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if u.ResponseHeaderTimeout == 0 {
		u.ResponseHeaderTimeout = Duration(DefaultResponseHeaderTimeout)
	}
	if u.IdleConnTimeout == 0 {
		u.IdleConnTimeout = Duration(DefaultIdleConnTimeout)
	}
	if u.MaxIdleConns == 0 {
		u.MaxIdleConns = DefaultMaxIdleConns
	}
	if u.MaxIdleConnsPerHost == 0 {
		u.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}

	a := &c.Spec.Auth
	if a.Realm == "" {
		a.Realm = DefaultRealm
	}
	if a.HealthPath == "" {
		a.HealthPath = DefaultHealthPath
	}
	if a.Store.Type == "" {
		a.Store.Type = StoreTypeMemory
	}

	if rl := c.Spec.RateLimit; rl != nil && rl.Enabled {
		if rl.Burst == 0 {
			rl.Burst = int(rl.RequestsPerSecond)
		}
		if rl.Burst == 0 {
			rl.Burst = 1
		}
	}

	if cb := c.Spec.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = 5
		}
		if cb.Timeout == 0 {
			cb.Timeout = Duration(30 * time.Second)
		}
		if cb.MaxRequests == 0 {
			cb.MaxRequests = 1
		}
	}

	if o := c.Spec.Observability; o != nil {
		if o.Logging.Level == "" {
			o.Logging.Level = "info"
		}
		if o.Logging.Format == "" {
			o.Logging.Format = "json"
		}
		if o.Metrics.Enabled {
			if o.Metrics.Address == "" {
				o.Metrics.Address = DefaultMetricsAddress
			}
			if o.Metrics.Path == "" {
				o.Metrics.Path = DefaultMetricsPath
			}
		}
		if o.Tracing.Enabled {
			if o.Tracing.SamplingRate == 0 {
				o.Tracing.SamplingRate = 1.0
			}
			if o.Tracing.ServiceName == "" {
				o.Tracing.ServiceName = c.Metadata.Name
			}
		}
	}
}
