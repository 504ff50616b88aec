package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
)

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	c := NewChecker("1.2.3")

	resp := c.Health()
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("no checks is healthy", func(t *testing.T) {
		t.Parallel()
		c := NewChecker("test")
		assert.Equal(t, StatusHealthy, c.Readiness().Status)
	})

	t.Run("unhealthy check wins", func(t *testing.T) {
		t.Parallel()
		c := NewChecker("test")
		c.RegisterCheck("good", func() Check { return Check{Status: StatusHealthy} })
		c.RegisterCheck("bad", func() Check {
			return Check{Status: StatusUnhealthy, Message: "down"}
		})

		resp := c.Readiness()
		assert.Equal(t, StatusUnhealthy, resp.Status)
		assert.Equal(t, "down", resp.Checks["bad"].Message)
	})

	t.Run("degraded does not override unhealthy", func(t *testing.T) {
		t.Parallel()
		c := NewChecker("test")
		c.RegisterCheck("bad", func() Check { return Check{Status: StatusUnhealthy} })
		c.RegisterCheck("meh", func() Check { return Check{Status: StatusDegraded} })

		assert.Equal(t, StatusUnhealthy, c.Readiness().Status)
	})

	t.Run("unregister removes check", func(t *testing.T) {
		t.Parallel()
		c := NewChecker("test")
		c.RegisterCheck("bad", func() Check { return Check{Status: StatusUnhealthy} })
		c.UnregisterCheck("bad")

		assert.Equal(t, StatusHealthy, c.Readiness().Status)
	})
}

func TestChecker_Handlers(t *testing.T) {
	t.Parallel()

	c := NewChecker("test")

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusHealthy, resp.Status)
	})

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("readiness unhealthy answers 503", func(t *testing.T) {
		t.Parallel()
		failing := NewChecker("test")
		failing.RegisterCheck("upstream", func() Check {
			return Check{Status: StatusUnhealthy}
		})

		rec := httptest.NewRecorder()
		failing.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestUpstreamCheck(t *testing.T) {
	t.Parallel()

	t.Run("reachable upstream is healthy", func(t *testing.T) {
		t.Parallel()
		upstream := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
		defer upstream.Close()

		check := UpstreamCheck(upstream.URL, nil)
		assert.Equal(t, StatusHealthy, check().Status)
	})

	t.Run("error status still counts as reachable", func(t *testing.T) {
		t.Parallel()
		upstream := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
		defer upstream.Close()

		check := UpstreamCheck(upstream.URL, nil)
		assert.Equal(t, StatusHealthy, check().Status)
	})

	t.Run("unreachable upstream is unhealthy", func(t *testing.T) {
		t.Parallel()
		upstream := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {}))
		url := upstream.URL
		upstream.Close()

		check := UpstreamCheck(url, nil)
		result := check()
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Contains(t, result.Message, "unreachable")
	})
}

func TestStoreCheck(t *testing.T) {
	t.Parallel()

	t.Run("empty store is degraded", func(t *testing.T) {
		t.Parallel()
		check := StoreCheck(basic.NewMemoryStore())
		result := check()
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("populated store is healthy", func(t *testing.T) {
		t.Parallel()
		store := basic.NewMemoryStore()
		hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
		require.NoError(t, err)
		require.NoError(t, store.AddOrUpdate(context.Background(), &basic.Credential{
			Key:        "svc",
			SecretHash: string(hash),
			Role:       basic.RoleAdmin,
			Enabled:    true,
		}))

		check := StoreCheck(store)
		assert.Equal(t, StatusHealthy, check().Status)
	})
}
