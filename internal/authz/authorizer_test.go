package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/config"
)

func testAuthorizer(t *testing.T, opts ...Option) Authorizer {
	t.Helper()
	opts = append(opts,
		WithMetrics(NewMetricsWithRegisterer("test", prometheus.NewRegistry())),
	)
	return NewAuthorizer(opts...)
}

func credWithRole(role basic.Role) *basic.Credential {
	return &basic.Credential{Key: "test-key", Role: role, Enabled: true}
}

func TestAuthorizer_RolePolicy(t *testing.T) {
	t.Parallel()

	a := testAuthorizer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		role    basic.Role
		method  string
		path    string
		allowed bool
	}{
		{"admin may delete topics", basic.RoleAdmin, http.MethodDelete, "/topics/t1", true},
		{"admin may post consumers", basic.RoleAdmin, http.MethodPost, "/consumers/g1", true},

		{"producer may read anywhere", basic.RoleProducer, http.MethodGet, "/consumers/g1", true},
		{"producer may post topics", basic.RoleProducer, http.MethodPost, "/topics/t1", true},
		{"producer may post topics root", basic.RoleProducer, http.MethodPost, "/topics", true},
		{"producer may not post consumers", basic.RoleProducer, http.MethodPost, "/consumers/g1", false},
		{"producer prefix does not match topicsfoo", basic.RoleProducer, http.MethodPost, "/topicsfoo", false},

		{"consumer may read anywhere", basic.RoleConsumer, http.MethodGet, "/topics/t1", true},
		{"consumer may post consumers", basic.RoleConsumer, http.MethodPost, "/consumers/g1/instances", true},
		{"consumer may not post topics", basic.RoleConsumer, http.MethodPost, "/topics/t1", false},

		{"readonly may get", basic.RoleReadOnly, http.MethodGet, "/topics", true},
		{"readonly may head", basic.RoleReadOnly, http.MethodHead, "/topics", true},
		{"readonly may options", basic.RoleReadOnly, http.MethodOptions, "/topics", true},
		{"readonly may not post", basic.RoleReadOnly, http.MethodPost, "/topics/t1", false},
		{"readonly may not delete", basic.RoleReadOnly, http.MethodDelete, "/consumers/g1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := a.Authorize(ctx, credWithRole(tt.role), tt.method, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed, "reason: %s", d.Reason)
		})
	}
}

func TestAuthorizer_EnforcementDisabled(t *testing.T) {
	t.Parallel()

	a := testAuthorizer(t, WithEnforceRoles(false))

	d, err := a.Authorize(context.Background(),
		credWithRole(basic.RoleReadOnly), http.MethodDelete, "/topics/t1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCompileRules(t *testing.T) {
	t.Parallel()

	t.Run("empty policies yield nil set", func(t *testing.T) {
		t.Parallel()
		rs, err := CompileRules(nil)
		require.NoError(t, err)
		assert.Nil(t, rs)
		assert.Zero(t, rs.Len())
	})

	t.Run("compile error", func(t *testing.T) {
		t.Parallel()
		_, err := CompileRules([]config.PolicyConfig{
			{Name: "broken", Expression: "method =="},
		})
		assert.Error(t, err)
	})

	t.Run("non-boolean expression", func(t *testing.T) {
		t.Parallel()
		_, err := CompileRules([]config.PolicyConfig{
			{Name: "stringy", Expression: `"hello"`},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must evaluate to bool")
	})
}

func TestAuthorizer_Rules(t *testing.T) {
	t.Parallel()

	rules, err := CompileRules([]config.PolicyConfig{
		{
			Name:       "no-topic-deletes",
			Expression: `!(method == "DELETE" && path.startsWith("/topics"))`,
		},
		{
			Name:       "block-key",
			Expression: `key != "blocked-key"`,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rules.Len())

	a := testAuthorizer(t, WithRules(rules))
	ctx := context.Background()

	t.Run("rule denies admin delete", func(t *testing.T) {
		t.Parallel()
		d, err := a.Authorize(ctx, credWithRole(basic.RoleAdmin), http.MethodDelete, "/topics/t1")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, "no-topic-deletes", d.Policy)
	})

	t.Run("rule denies specific key", func(t *testing.T) {
		t.Parallel()
		cred := &basic.Credential{Key: "blocked-key", Role: basic.RoleAdmin, Enabled: true}
		d, err := a.Authorize(ctx, cred, http.MethodGet, "/topics")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, "block-key", d.Policy)
	})

	t.Run("other operations pass", func(t *testing.T) {
		t.Parallel()
		d, err := a.Authorize(ctx, credWithRole(basic.RoleAdmin), http.MethodPost, "/topics/t1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestAuthorizer_RulesCannotWidenRolePolicy(t *testing.T) {
	t.Parallel()

	// A rule that matches the request must not grant access the role
	// policy denies; rules only constrain.
	rules, err := CompileRules([]config.PolicyConfig{
		{
			Name:       "readonly-may-post",
			Expression: `role == "readonly" && method == "POST"`,
		},
	})
	require.NoError(t, err)

	a := testAuthorizer(t, WithRules(rules))

	d, err := a.Authorize(context.Background(),
		credWithRole(basic.RoleReadOnly), http.MethodPost, "/topics/t1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "role", d.Policy)
	assert.Contains(t, d.Reason, "readonly")
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	a := testAuthorizer(t)
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed request passes", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/topics/t1", nil)
		req = req.WithContext(basic.ContextWithCredential(
			req.Context(), credWithRole(basic.RoleProducer)))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("denied request gets 403", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/topics/t1", nil)
		req = req.WithContext(basic.ContextWithCredential(
			req.Context(), credWithRole(basic.RoleReadOnly)))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "readonly")
	})

	t.Run("missing credential gets 401", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/topics", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
