package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/config"
	"github.com/vyrodovalexey/krestgw/internal/observability"
)

func testStore(t *testing.T) *basic.MemoryStore {
	t.Helper()

	store := basic.NewMemoryStore()
	for key, role := range map[string]basic.Role{
		"svc-admin":    basic.RoleAdmin,
		"svc-producer": basic.RoleProducer,
		"svc-reader":   basic.RoleReadOnly,
	} {
		hash, err := basic.HashSecretWithCost("s3cret", 4)
		require.NoError(t, err)
		require.NoError(t, store.AddOrUpdate(context.Background(), &basic.Credential{
			Key:        key,
			SecretHash: hash,
			Role:       role,
			Enabled:    true,
		}))
	}
	return store
}

func testConfig(upstreamURL string) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Spec.Listener.Address = "127.0.0.1:0"
	cfg.Spec.Upstream.URL = upstreamURL
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.GatewayConfig, opts ...Option) *Gateway {
	t.Helper()

	opts = append(opts, WithLogger(observability.NopLogger()))
	g, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return g
}

func TestGateway_EndToEnd(t *testing.T) {
	t.Parallel()

	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"topics":[]}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t, testConfig(upstream.URL), WithStore(testStore(t)))

	t.Run("missing credentials answer 401 with challenge", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/topics", nil)
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic realm=")
	})

	t.Run("wrong secret answers 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/topics", nil)
		req.Header.Set("Authorization", basic.EncodeCredentials("svc-admin", "wrong"))
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authenticated request is proxied without credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/topics", nil)
		req.Header.Set("Authorization", basic.EncodeCredentials("svc-reader", "s3cret"))
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"topics":[]}`, rec.Body.String())
		assert.Empty(t, gotAuth)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("readonly write is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/topics/t1", nil)
		req.Header.Set("Authorization", basic.EncodeCredentials("svc-reader", "s3cret"))
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("producer may write to topics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/topics/t1", nil)
		req.Header.Set("Authorization", basic.EncodeCredentials("svc-producer", "s3cret"))
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health path bypasses authentication", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})
}

func TestGateway_CELPolicy(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Spec.Authz.Policies = []config.PolicyConfig{
		{
			Name:       "no-topic-deletes",
			Expression: `!(method == "DELETE" && path.startsWith("/topics"))`,
		},
	}

	g := newTestGateway(t, cfg, WithStore(testStore(t)))

	req := httptest.NewRequest(http.MethodDelete, "/topics/t1", nil)
	req.Header.Set("Authorization", basic.EncodeCredentials("svc-admin", "s3cret"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "no-topic-deletes")
}

func TestGateway_InvalidPolicyFailsConstruction(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Spec.Authz.Policies = []config.PolicyConfig{
		{Name: "broken", Expression: "method =="},
	}

	_, err := New(context.Background(), cfg,
		WithLogger(observability.NopLogger()), WithStore(basic.NewMemoryStore()))
	assert.Error(t, err)
}

func TestGateway_RateLimit(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Spec.RateLimit = &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	}

	g := newTestGateway(t, cfg, WithStore(testStore(t)))
	defer g.rateLimiter.Stop()

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	req.Header.Set("Authorization", basic.EncodeCredentials("svc-reader", "s3cret"))
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGateway_FileStoreReload(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	hash, err := basic.HashSecretWithCost("s3cret", 4)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "credentials")
	require.NoError(t, os.WriteFile(path,
		[]byte("first:"+hash+":admin\n"), 0o600))

	cfg := testConfig(upstream.URL)
	cfg.Spec.Auth.Store = config.StoreConfig{
		Type: config.StoreTypeFile,
		File: config.FileStoreConfig{Path: path},
	}

	g := newTestGateway(t, cfg)

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/topics", nil)
		req.Header.Set("Authorization", basic.EncodeCredentials(key, "s3cret"))
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("first"))
	require.Equal(t, http.StatusUnauthorized, send("second"))

	require.NoError(t, os.WriteFile(path,
		[]byte("first:"+hash+":admin\nsecond:"+hash+":readonly\n"), 0o600))
	require.NoError(t, g.Reload(context.Background()))

	assert.Equal(t, http.StatusOK, send("second"))
}

func TestGateway_ApplyConfig(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	g := newTestGateway(t, testConfig(upstream.URL), WithStore(testStore(t)))

	send := func() int {
		req := httptest.NewRequest(http.MethodDelete, "/topics/t1", nil)
		req.Header.Set("Authorization", basic.EncodeCredentials("svc-admin", "s3cret"))
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send())

	next := testConfig(upstream.URL)
	next.Spec.Authz.Policies = []config.PolicyConfig{
		{
			Name:       "freeze-topics",
			Expression: `!(method == "DELETE" && path.startsWith("/topics"))`,
		},
	}
	require.NoError(t, g.ApplyConfig(context.Background(), next))

	assert.Equal(t, http.StatusForbidden, send())

	// A broken configuration is rejected and the current chain keeps
	// serving.
	bad := testConfig(upstream.URL)
	bad.Spec.Authz.Policies = []config.PolicyConfig{
		{Name: "broken", Expression: "method =="},
	}
	assert.Error(t, g.ApplyConfig(context.Background(), bad))
	assert.Equal(t, http.StatusForbidden, send())
}

func TestGateway_WatcherFailureStopsServers(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	hash, err := basic.HashSecretWithCost("s3cret", 4)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "creds")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "credentials")
	require.NoError(t, os.WriteFile(path,
		[]byte("first:"+hash+":admin\n"), 0o600))

	cfg := testConfig(upstream.URL)
	cfg.Spec.Listener.ShutdownTimeout = config.Duration(time.Second)
	cfg.Spec.Auth.WatchCredentials = true
	cfg.Spec.Auth.Store = config.StoreConfig{
		Type: config.StoreTypeFile,
		File: config.FileStoreConfig{Path: path},
	}

	g := newTestGateway(t, cfg)

	// Removing the directory makes the watcher fail to start.
	require.NoError(t, os.RemoveAll(dir))

	err = g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential watcher")

	// The listeners started before the failure must have been shut down.
	assert.ErrorIs(t, g.httpServer.ListenAndServe(), http.ErrServerClosed)
}

func TestGateway_RunAndShutdown(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Spec.Listener.ShutdownTimeout = config.Duration(time.Second)

	g := newTestGateway(t, cfg, WithStore(testStore(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}
}

func TestGateway_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}
