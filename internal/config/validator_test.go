package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       DefaultKind,
		Metadata:   Metadata{Name: "test"},
		Spec: GatewaySpec{
			Listener: ListenerConfig{Address: ":8080"},
			Upstream: UpstreamConfig{URL: "http://kafka-rest:8082"},
			Auth: AuthConfig{
				Store: StoreConfig{Type: StoreTypeMemory},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateConfig(nil))
}

func TestValidateConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantMsg string
	}{
		{
			"missing apiVersion",
			func(c *GatewayConfig) { c.APIVersion = "" },
			"apiVersion is required",
		},
		{
			"wrong apiVersion prefix",
			func(c *GatewayConfig) { c.APIVersion = "other.io/v1" },
			"apiVersion must start with",
		},
		{
			"wrong kind",
			func(c *GatewayConfig) { c.Kind = "Proxy" },
			"kind must be 'Gateway'",
		},
		{
			"missing metadata name",
			func(c *GatewayConfig) { c.Metadata.Name = "" },
			"name is required",
		},
		{
			"missing listener address",
			func(c *GatewayConfig) { c.Spec.Listener.Address = "" },
			"address is required",
		},
		{
			"malformed listener address",
			func(c *GatewayConfig) { c.Spec.Listener.Address = "no-port" },
			"invalid address",
		},
		{
			"missing upstream url",
			func(c *GatewayConfig) { c.Spec.Upstream.URL = "" },
			"url is required",
		},
		{
			"bad upstream scheme",
			func(c *GatewayConfig) { c.Spec.Upstream.URL = "ftp://host" },
			"scheme must be http or https",
		},
		{
			"unknown store type",
			func(c *GatewayConfig) { c.Spec.Auth.Store.Type = "ldap" },
			"unknown store type",
		},
		{
			"file store without path",
			func(c *GatewayConfig) { c.Spec.Auth.Store.Type = StoreTypeFile },
			"path is required",
		},
		{
			"redis store without address",
			func(c *GatewayConfig) { c.Spec.Auth.Store.Type = StoreTypeRedis },
			"address is required",
		},
		{
			"vault store without settings",
			func(c *GatewayConfig) { c.Spec.Auth.Store.Type = StoreTypeVault },
			"vault settings are required",
		},
		{
			"watch without file store",
			func(c *GatewayConfig) { c.Spec.Auth.WatchCredentials = true },
			"credential watching requires the file store",
		},
		{
			"health path without slash",
			func(c *GatewayConfig) { c.Spec.Auth.HealthPath = "health" },
			"must start with '/'",
		},
		{
			"duplicate policy name",
			func(c *GatewayConfig) {
				c.Spec.Authz.Policies = []PolicyConfig{
					{Name: "p1", Expression: "true"},
					{Name: "p1", Expression: "false"},
				}
			},
			"duplicate policy name",
		},
		{
			"policy without expression",
			func(c *GatewayConfig) {
				c.Spec.Authz.Policies = []PolicyConfig{{Name: "p1"}}
			},
			"policy expression is required",
		},
		{
			"rate limit without rps",
			func(c *GatewayConfig) {
				c.Spec.RateLimit = &RateLimitConfig{Enabled: true}
			},
			"must be greater than zero",
		},
		{
			"rate limit bad CIDR",
			func(c *GatewayConfig) {
				c.Spec.RateLimit = &RateLimitConfig{
					Enabled:           true,
					RequestsPerSecond: 10,
					TrustedProxies:    []string{"10.0.0.1"},
				}
			},
			"invalid CIDR",
		},
		{
			"invalid log level",
			func(c *GatewayConfig) {
				c.Spec.Observability = &ObservabilityConfig{
					Logging: LoggingConfig{Level: "verbose"},
				}
			},
			"invalid log level",
		},
		{
			"tracing sampling out of range",
			func(c *GatewayConfig) {
				c.Spec.Observability = &ObservabilityConfig{
					Tracing: TracingConfig{Enabled: true, SamplingRate: 1.5},
				}
			},
			"must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	var empty ValidationErrors
	assert.Equal(t, "no validation errors", empty.Error())
	assert.False(t, empty.HasErrors())

	single := ValidationErrors{{Path: "spec.foo", Message: "bad"}}
	assert.Equal(t, "spec.foo: bad", single.Error())

	multi := ValidationErrors{
		{Path: "a", Message: "one"},
		{Path: "b", Message: "two"},
	}
	assert.True(t, strings.Contains(multi.Error(), "2 validation errors"))
}
