// Package gateway assembles the authenticating reverse proxy: the
// credential store, the middleware chain, the upstream proxy, and the
// operational servers around them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/vyrodovalexey/krestgw/internal/admin"
	"github.com/vyrodovalexey/krestgw/internal/auth"
	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/authz"
	"github.com/vyrodovalexey/krestgw/internal/config"
	"github.com/vyrodovalexey/krestgw/internal/health"
	"github.com/vyrodovalexey/krestgw/internal/middleware"
	"github.com/vyrodovalexey/krestgw/internal/observability"
	"github.com/vyrodovalexey/krestgw/internal/proxy"
)

// Gateway is the assembled authenticating proxy.
type Gateway struct {
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	store   basic.Store
	checker *health.Checker

	// mu guards cfg, handler, and rateLimiter, which ApplyConfig swaps
	// while requests are in flight.
	mu          sync.RWMutex
	cfg         *config.GatewayConfig
	handler     http.Handler
	rateLimiter *middleware.RateLimiter

	reloadStore func(context.Context) error

	httpServer    *http.Server
	metricsServer *http.Server
	adminServer   *admin.Server
	credWatcher   *credentialWatcher

	version string
}

// Option is a functional option for constructing the gateway.
type Option func(*Gateway)

// WithLogger sets the logger. When unset a logger is built from the
// observability section of the config.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithStore overrides the credential store from the config. Tests use
// this to inject a populated memory store.
func WithStore(store basic.Store) Option {
	return func(g *Gateway) {
		g.store = store
	}
}

// WithVersion sets the version reported by health and build info.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// New builds a gateway from the configuration. The returned gateway is
// ready to Run.
func New(ctx context.Context, cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config is required")
	}
	cfg.SetDefaults()

	g := &Gateway{
		cfg:     cfg,
		version: "dev",
	}

	for _, opt := range opts {
		opt(g)
	}

	if err := g.initObservability(); err != nil {
		return nil, err
	}

	if g.store == nil {
		store, reload, err := buildStore(ctx, cfg.Spec.Auth.Store, observability.ZapFromLogger(g.logger))
		if err != nil {
			return nil, err
		}
		g.store = store
		g.reloadStore = reload
	}

	g.updateCredentialCount(ctx)

	if err := g.buildHandler(); err != nil {
		return nil, err
	}

	g.buildHealthChecker()

	if err := g.buildServers(); err != nil {
		return nil, err
	}

	return g, nil
}

// initObservability builds logger, metrics, and tracer.
func (g *Gateway) initObservability() error {
	obs := g.cfg.Spec.Observability

	if g.logger == nil {
		logCfg := observability.DefaultLogConfig()
		if obs != nil {
			if obs.Logging.Level != "" {
				logCfg.Level = obs.Logging.Level
			}
			if obs.Logging.Format != "" {
				logCfg.Format = obs.Logging.Format
			}
			if obs.Logging.Output != "" {
				logCfg.Output = obs.Logging.Output
			}
		}

		logger, err := observability.NewLogger(logCfg)
		if err != nil {
			return fmt.Errorf("gateway: logger: %w", err)
		}
		g.logger = logger
	}

	g.metrics = observability.NewMetrics("krestgw")
	g.metrics.SetBuildInfo(g.version, "", "")

	tracerCfg := observability.TracerConfig{ServiceName: g.cfg.Metadata.Name}
	if obs != nil && obs.Tracing.Enabled {
		tracerCfg.Enabled = true
		tracerCfg.OTLPEndpoint = obs.Tracing.OTLPEndpoint
		tracerCfg.SamplingRate = obs.Tracing.SamplingRate
		if obs.Tracing.ServiceName != "" {
			tracerCfg.ServiceName = obs.Tracing.ServiceName
		}
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		return fmt.Errorf("gateway: tracer: %w", err)
	}
	g.tracer = tracer

	return nil
}

// buildHandler assembles the initial middleware chain.
func (g *Gateway) buildHandler() error {
	handler, limiter, err := g.newHandler(g.cfg.Spec)
	if err != nil {
		return err
	}

	g.handler = handler
	g.rateLimiter = limiter
	return nil
}

// newHandler assembles the middleware chain around the reverse proxy.
// Order matters: request ID and recovery wrap everything, rate limiting
// runs before credential checks so abusive clients cannot burn bcrypt
// cycles, and the circuit breaker sits directly in front of the proxy.
func (g *Gateway) newHandler(spec config.GatewaySpec) (http.Handler, *middleware.RateLimiter, error) {
	validator := basic.NewValidator(g.store,
		basic.WithRealm(spec.Auth.Realm),
		basic.WithLogger(observability.ZapFromLogger(g.logger)),
	)

	authMW, err := auth.NewMiddleware(validator,
		auth.WithHealthPath(spec.Auth.HealthPath),
		auth.WithLogger(g.logger),
		auth.WithMetrics(auth.NewMetricsWithRegisterer("krestgw", g.metrics.Registry())),
	)
	if err != nil {
		return nil, nil, err
	}

	rules, err := authz.CompileRules(spec.Authz.Policies)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: authorization policies: %w", err)
	}

	authorizer := authz.NewAuthorizer(
		authz.WithEnforceRoles(spec.Authz.Enforced()),
		authz.WithRules(rules),
		authz.WithLogger(g.logger),
		authz.WithMetrics(authz.NewMetricsWithRegisterer("krestgw", g.metrics.Registry())),
	)

	upstream, err := proxy.NewReverseProxy(spec.Upstream,
		proxy.WithLogger(g.logger),
		proxy.WithMetrics(g.metrics),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: upstream: %w", err)
	}

	rateLimitMW, rateLimiter := middleware.RateLimitFromConfig(
		spec.RateLimit, g.logger, g.metrics)

	circuitBreakerMW := middleware.CircuitBreakerFromConfig(
		spec.CircuitBreaker, g.logger, g.metrics)

	var handler http.Handler = upstream
	handler = circuitBreakerMW(handler)
	handler = authz.Middleware(authorizer)(handler)
	handler = authMW.Handler(handler)
	handler = rateLimitMW(handler)
	if obs := spec.Observability; obs != nil && obs.Tracing.Enabled {
		handler = observability.TracingMiddleware(g.tracer)(handler)
	}
	handler = observability.MetricsMiddleware(g.metrics)(handler)
	handler = middleware.Logging(g.logger)(handler)
	handler = middleware.Recovery(g.logger)(handler)
	handler = middleware.RequestID()(handler)

	return handler, rateLimiter, nil
}

// buildHealthChecker wires readiness checks for the ops endpoints.
func (g *Gateway) buildHealthChecker() {
	g.checker = health.NewChecker(g.version)
	g.checker.RegisterCheck("upstream",
		health.UpstreamCheck(g.cfg.Spec.Upstream.URL, nil))
	g.checker.RegisterCheck("credentials", health.StoreCheck(g.store))
}

// buildServers constructs the main listener plus the optional metrics
// and admin servers.
func (g *Gateway) buildServers() error {
	spec := g.cfg.Spec

	g.httpServer = &http.Server{
		Addr:         spec.Listener.Address,
		Handler:      g,
		ReadTimeout:  spec.Listener.ReadTimeout.Duration(),
		WriteTimeout: spec.Listener.WriteTimeout.Duration(),
		IdleTimeout:  spec.Listener.IdleTimeout.Duration(),
	}

	if obs := spec.Observability; obs != nil && obs.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(obs.Metrics.Path, g.metrics.Handler())
		mux.HandleFunc("/healthz", g.checker.HealthHandler())
		mux.HandleFunc("/readyz", g.checker.ReadinessHandler())
		mux.HandleFunc("/livez", g.checker.LivenessHandler())

		g.metricsServer = &http.Server{
			Addr:              obs.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if spec.Admin.Enabled {
		adminOpts := []admin.Option{
			admin.WithLogger(observability.ZapFromLogger(g.logger)),
		}
		if g.reloadStore != nil {
			adminOpts = append(adminOpts, admin.WithReloadFunc(g.Reload))
		}

		srv, err := admin.NewServer(spec.Admin.Address, g.store, adminOpts...)
		if err != nil {
			return err
		}
		g.adminServer = srv
	}

	if spec.Auth.WatchCredentials && spec.Auth.Store.Type == config.StoreTypeFile {
		fileStore, ok := g.store.(*basic.FileStore)
		if ok {
			watcher, err := newCredentialWatcher(
				fileStore.Path(),
				fileStore.Reload,
				func() { g.updateCredentialCount(context.Background()) },
				observability.ZapFromLogger(g.logger),
			)
			if err != nil {
				return fmt.Errorf("gateway: credential watcher: %w", err)
			}
			g.credWatcher = watcher
		}
	}

	return nil
}

// ServeHTTP dispatches to the current middleware chain. The indirection
// lets ApplyConfig swap the chain without restarting the listener.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	handler := g.handler
	g.mu.RUnlock()

	handler.ServeHTTP(w, r)
}

// Handler returns the assembled request handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g
}

// Store returns the credential store.
func (g *Gateway) Store() basic.Store {
	return g.store
}

// Reload re-reads credentials from the backing store. It is invoked on
// SIGHUP and by the admin API.
func (g *Gateway) Reload(ctx context.Context) error {
	if g.reloadStore == nil {
		return nil
	}
	if err := g.reloadStore(ctx); err != nil {
		return err
	}
	g.updateCredentialCount(ctx)
	g.logger.Info("credential store reloaded")
	return nil
}

// ApplyConfig applies a changed configuration to the running gateway.
// Sections that shape the request path take effect immediately by
// rebuilding the middleware chain: upstream, auth realm and health
// path, authorization policies, rate limiting, and circuit breaking.
// Listener, admin, store, and observability changes cannot be applied
// to running servers and are logged as requiring a restart.
func (g *Gateway) ApplyConfig(ctx context.Context, next *config.GatewayConfig) error {
	if next == nil {
		return errors.New("gateway: config is required")
	}
	next.SetDefaults()

	g.mu.RLock()
	cur := g.cfg
	g.mu.RUnlock()

	for _, section := range restartOnlySections(cur, next) {
		g.logger.Warn("configuration change requires a restart",
			observability.String("section", section),
		)
	}

	// Carry the static sections forward so the rebuilt chain matches
	// the servers that are actually running.
	merged := *next
	merged.Spec.Listener = cur.Spec.Listener
	merged.Spec.Admin = cur.Spec.Admin
	merged.Spec.Auth.Store = cur.Spec.Auth.Store
	merged.Spec.Auth.WatchCredentials = cur.Spec.Auth.WatchCredentials
	merged.Spec.Observability = cur.Spec.Observability

	handler, limiter, err := g.newHandler(merged.Spec)
	if err != nil {
		return err
	}

	g.mu.Lock()
	old := g.rateLimiter
	g.cfg = &merged
	g.handler = handler
	g.rateLimiter = limiter
	g.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	g.logger.Info("configuration applied",
		observability.String("upstream", merged.Spec.Upstream.URL),
	)
	return nil
}

// restartOnlySections lists config sections that changed but only take
// effect on restart.
func restartOnlySections(cur, next *config.GatewayConfig) []string {
	var sections []string
	if !reflect.DeepEqual(cur.Spec.Listener, next.Spec.Listener) {
		sections = append(sections, "listener")
	}
	if !reflect.DeepEqual(cur.Spec.Admin, next.Spec.Admin) {
		sections = append(sections, "admin")
	}
	if !reflect.DeepEqual(cur.Spec.Auth.Store, next.Spec.Auth.Store) ||
		cur.Spec.Auth.WatchCredentials != next.Spec.Auth.WatchCredentials {
		sections = append(sections, "auth.store")
	}
	if !reflect.DeepEqual(cur.Spec.Observability, next.Spec.Observability) {
		sections = append(sections, "observability")
	}
	return sections
}

func (g *Gateway) updateCredentialCount(ctx context.Context) {
	if g.metrics == nil {
		return
	}
	if n, err := g.store.Count(ctx); err == nil {
		g.metrics.SetCredentialCount(n)
	}
}

// Run starts all servers and blocks until ctx is canceled or a server
// fails, then shuts everything down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 3)

	g.mu.RLock()
	spec := g.cfg.Spec
	g.mu.RUnlock()

	g.logger.Info("starting gateway",
		observability.String("address", spec.Listener.Address),
		observability.String("upstream", spec.Upstream.URL),
		observability.String("store", spec.Auth.Store.Type),
	)

	go func() {
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listener: %w", err)
		}
	}()

	if g.metricsServer != nil {
		g.logger.Info("starting metrics server",
			observability.String("address", g.metricsServer.Addr),
		)
		go func() {
			if err := g.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if g.adminServer != nil {
		go func() {
			if err := g.adminServer.Start(); err != nil {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	if g.credWatcher != nil {
		if err := g.credWatcher.Start(); err != nil {
			err = fmt.Errorf("credential watcher: %w", err)
			g.logger.Error("startup failed", observability.Error(err))
			if serr := g.shutdown(); serr != nil {
				err = errors.Join(err, serr)
			}
			return err
		}
	}

	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case err := <-errCh:
		g.logger.Error("server failed", observability.Error(err))
		g.shutdown()
		return err
	}

	return g.shutdown()
}

// shutdown stops all components within the configured shutdown timeout.
func (g *Gateway) shutdown() error {
	g.mu.RLock()
	timeout := g.cfg.Spec.Listener.ShutdownTimeout.Duration()
	limiter := g.rateLimiter
	g.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	if g.credWatcher != nil {
		if err := g.credWatcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("listener shutdown: %w", err))
	}

	if g.metricsServer != nil {
		if err := g.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	if g.adminServer != nil {
		if err := g.adminServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}

	if limiter != nil {
		limiter.Stop()
	}

	if g.tracer != nil {
		if err := g.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	closeStore(g.store, observability.ZapFromLogger(g.logger))

	g.logger.Info("gateway stopped")

	return errors.Join(errs...)
}
